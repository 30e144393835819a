package httpserver

const (
	ErrInvalidJSON = "invalid json"
	ErrNotFound    = "webhook not found"
	ErrBadListID   = "malformed list-storage webhook id"
	ErrDependency  = "dependency error"
)
