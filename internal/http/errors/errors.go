// Package errors escribe las respuestas de error JSON de la API.
package errors

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError escribe err como JSON {code, message, detail}. La causa (Err) no se serializa.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	resp := errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteUnauthorized escribe 401 con el challenge Bearer.
func WriteUnauthorized(w http.ResponseWriter, appErr *AppError) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
	WriteError(w, appErr)
}
