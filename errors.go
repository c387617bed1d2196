package actorauth

import (
	"errors"
	"net/http"
)

// ErrorKind classifies every failure the engine reports.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindDuplicateIdentity
	KindInvalidCredential
	KindActorInactive
	KindTokenMalformed
	KindSessionNotFound
	KindSessionExpired
	KindSessionRevoked
	KindInternalStorage
	KindRateLimited
)

var kindNames = [...]string{
	KindUnknown:           "unknown",
	KindValidation:        "validation",
	KindDuplicateIdentity: "duplicate_identity",
	KindInvalidCredential: "invalid_credential",
	KindActorInactive:     "actor_inactive",
	KindTokenMalformed:    "token_malformed",
	KindSessionNotFound:   "session_not_found",
	KindSessionExpired:    "session_expired",
	KindSessionRevoked:    "session_revoked",
	KindInternalStorage:   "internal_storage",
	KindRateLimited:       "rate_limited",
}

// String returns the snake_case code used in audit context and logs.
func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

var kindMessages = map[ErrorKind]string{
	KindValidation:        "invalid request",
	KindDuplicateIdentity: "identity already registered",
	KindInvalidCredential: "invalid credentials",
	KindActorInactive:     "actor inactive",
	KindTokenMalformed:    "malformed token",
	KindSessionNotFound:   "session not found",
	KindSessionExpired:    "session expired",
	KindSessionRevoked:    "session revoked",
	KindInternalStorage:   "internal storage error",
	KindRateLimited:       "rate limited",
}

// Error is the only error type returned by [Engine] operations.
//
// Op names the engine operation ("register", "login", "refresh", ...). Err
// carries the underlying cause when there is one; it is never rendered to
// clients by [PublicMessage].
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := "actorauth: "
	if e.Op != "" {
		msg += e.Op + ": "
	}
	msg += kindMessage(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrSessionRevoked)
// holds regardless of Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func kindMessage(k ErrorKind) string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return "unknown error"
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrDuplicateIdentity = &Error{Kind: KindDuplicateIdentity}
	// ErrInvalidCredential is returned as-is, never wrapped, for unknown keys,
	// wrong secrets and empty secrets alike.
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrActorInactive     = &Error{Kind: KindActorInactive}
	ErrTokenMalformed    = &Error{Kind: KindTokenMalformed}
	ErrSessionNotFound   = &Error{Kind: KindSessionNotFound}
	ErrSessionExpired    = &Error{Kind: KindSessionExpired}
	ErrSessionRevoked    = &Error{Kind: KindSessionRevoked}
	ErrInternalStorage   = &Error{Kind: KindInternalStorage}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	// ErrEngineNotReady is returned when a nil or unbuilt Engine is used.
	ErrEngineNotReady = errors.New("actorauth: engine not initialized")
)

var (
	errUnknownRole     = errors.New("unknown role")
	errEmptySessionID  = errors.New("session id is required")
	errEmptyIdentityID = errors.New("identity id is required")
)

func newError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf extracts the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage renders err for an untrusted client. Malformed, unknown and
// revoked tokens produce one identical message.
func PublicMessage(err error) string {
	switch kind := KindOf(err); kind {
	case KindTokenMalformed, KindSessionNotFound, KindSessionRevoked:
		return "invalid token"
	case KindUnknown:
		return kindMessage(KindInternalStorage)
	default:
		return kindMessage(kind)
	}
}

// HTTPStatus maps err onto a response status. Security-equivalent token
// failures share 401.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicateIdentity:
		return http.StatusConflict
	case KindInvalidCredential, KindTokenMalformed, KindSessionNotFound, KindSessionRevoked, KindSessionExpired:
		return http.StatusUnauthorized
	case KindActorInactive:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
