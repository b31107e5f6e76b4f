package core

// Error is an API-facing error with a stable machine readable code
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
