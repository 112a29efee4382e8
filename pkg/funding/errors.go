package funding

// queryError reports a failed ledger query as ErrFundingQueryFailed while
// keeping the underlying cause reachable through errors.Is and errors.As.
type queryError struct {
	msg   string
	cause error
}

func queryFailed(cause error, msg string) error {
	return &queryError{msg: msg, cause: cause}
}

func (e *queryError) Error() string {
	return ErrFundingQueryFailed.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *queryError) Is(target error) bool {
	return target == ErrFundingQueryFailed
}

func (e *queryError) Unwrap() error {
	return e.cause
}
