package client

// causeError classifies cause under kind. Both remain reachable through
// errors.Is and errors.As.
type causeError struct {
	kind  error
	msg   string
	cause error
}

func withCause(kind, cause error, msg string) error {
	return &causeError{kind: kind, msg: msg, cause: cause}
}

func (e *causeError) Error() string {
	return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *causeError) Is(target error) bool {
	return target == e.kind
}

func (e *causeError) Unwrap() error {
	return e.cause
}
