package protocol

// Error codes carried by ERROR messages and rejected EDIT_RESULT events.
const (
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"
	ErrWorldBusy       = "E_WORLD_BUSY"

	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrBlocked       = "E_BLOCKED"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

// retryable marks codes where resending the same request later can succeed.
var codes = map[string]struct{ retryable bool }{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrWorldBusy:       {retryable: true},
	ErrBadRequest:      {},
	ErrInvalidTarget:   {},
	ErrBlocked:         {},
	ErrRateLimit:       {retryable: true},
	ErrInternal:        {},
}

// IsKnownCode reports whether code is empty (success) or one of the codes above.
func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := codes[code]
	return ok
}

func Retryable(code string) bool {
	return codes[code].retryable
}
