package jwt

import "errors"

// Kind clasifica por qué falló una validación. El código se loguea y se cuenta;
// nunca se devuelve al cliente.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindMissingKeyID
	KindPublicKeyNotFound
	KindInvalidSignature
	KindExpired
	KindNotYetValid
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "token_malformed"
	case KindMissingKeyID:
		return "kid_missing"
	case KindPublicKeyNotFound:
		return "public_key_not_found"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindExpired:
		return "token_expired"
	case KindNotYetValid:
		return "token_not_yet_valid"
	}
	return "unknown"
}

// ValidationError es el único tipo de error que retorna Validator.Validate.
type ValidationError struct {
	Kind Kind
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is compara por Kind, así errors.Is(err, ErrTokenExpired) funciona con cualquier causa.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMalformedToken    = &ValidationError{Kind: KindMalformed}
	ErrMissingKeyID      = &ValidationError{Kind: KindMissingKeyID}
	ErrPublicKeyNotFound = &ValidationError{Kind: KindPublicKeyNotFound}
	ErrInvalidSignature  = &ValidationError{Kind: KindInvalidSignature}
	ErrTokenExpired      = &ValidationError{Kind: KindExpired}
	ErrTokenNotYetValid  = &ValidationError{Kind: KindNotYetValid}
)

// Issuer-side.
var (
	ErrInvalidLifetime = errors.New("invalid_token_lifetime")
	ErrOutlivesKey     = errors.New("token_outlives_signing_key")
)

// KindOf extrae el Kind de un error de validación.
func KindOf(err error) (Kind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}

func fail(k Kind, err error) *ValidationError {
	return &ValidationError{Kind: k, Err: err}
}
