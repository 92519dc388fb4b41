package docstore

// Op is the kind of access being authorized.
type Op string

const (
	OpGet    Op = "get"
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Request describes one access attempt.
//
// For document operations Path is the document path; for OpList it is the
// collection path. Before holds the stored data (nil if absent), After the
// data as it would be after the write, and Fields the top-level or dotted
// field names an update touches.
type Request struct {
	Op     Op
	Caller string
	Path   string
	Before map[string]interface{}
	After  map[string]interface{}
	Fields []string
}

// Lookup reads another document's data within the same transaction as the
// request. It returns nil data and no error when the document is missing.
type Lookup func(path string) (map[string]interface{}, error)

// Policy decides whether a request is allowed. Returning a non-nil error
// denies it; the error is wrapped with ErrPermissionDenied.
type Policy interface {
	Authorize(req Request, lookup Lookup) error
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(req Request, lookup Lookup) error

func (f PolicyFunc) Authorize(req Request, lookup Lookup) error {
	return f(req, lookup)
}

// AllowAll permits every request.
var AllowAll Policy = PolicyFunc(func(Request, Lookup) error { return nil })
