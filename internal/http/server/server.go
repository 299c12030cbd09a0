// Package server arma los routers chi de los roles issuer y verifier y corre el
// http.Server con apagado ordenado.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	httperrors "github.com/dropDatabas3/keyrelay/internal/http/errors"
	mw "github.com/dropDatabas3/keyrelay/internal/http/middlewares"
	"github.com/dropDatabas3/keyrelay/internal/observability/logger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Start sirve handler en addr hasta que ctx se cancela y luego apaga con un
// plazo de 10s para los requests en curso.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := logger.Named("http")

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// newRouter crea el router base: recover, request id, logging y métricas.
func newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		withInflight,
		withMetrics,
	)
	return r
}

// withFallbacks responde 404/405 con el formato de error de la API. Va al final,
// después de montar las rutas.
func withFallbacks(r *chi.Mux) *chi.Mux {
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})
	return r
}
