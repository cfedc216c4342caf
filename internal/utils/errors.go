package utils

// AppError carries the failing operation alongside a caller-facing message,
// keeping the wrapped cause reachable through errors.Is and errors.As.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	s := e.Op + ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError wraps err with the operation name and message. err may be nil
// for errors that originate here.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
