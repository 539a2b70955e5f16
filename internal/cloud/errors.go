package cloud

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by single-record lookups that match nothing.
var ErrNotFound = errors.New("cloud: not found")

// Business codes returned by the platform.
const (
	CodeTokenExpired      = 10102025
	CodeDuplicatePhone    = 10401006
	CodeInvalidEmail      = 10401007
	CodeDuplicateDeptName = 10401012
	CodeDuplicateEmail    = 10401038
)

// APIError is a rejected call. Code is the platform business code, or 0
// when the response carried none.
type APIError struct {
	Status  int
	Code    int
	Message string
	Body    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("cloud api: status %d, code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("cloud api: status %d: %s", e.Status, e.Message)
}

// CodeOf returns the business code carried by err.
func CodeOf(err error) (int, bool) {
	var ae *APIError
	if errors.As(err, &ae) && ae.Code != 0 {
		return ae.Code, true
	}
	return 0, false
}

// IsTokenExpired reports whether err means the company token is no longer
// valid.
func IsTokenExpired(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == CodeTokenExpired
}

// IsDuplicateDeptName reports whether err is a sibling name clash.
func IsDuplicateDeptName(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == CodeDuplicateDeptName
}

// StripTable maps a business code to the user field that caused the
// rejection. A caller strips that field from the payload and retries.
type StripTable map[int]string

// DefaultStripTable covers the duplicate and invalid contact codes.
var DefaultStripTable = StripTable{
	CodeDuplicatePhone: FieldPhone,
	CodeDuplicateEmail: FieldEmail,
	CodeInvalidEmail:   FieldEmail,
}

// FieldFor returns the field to strip for err.
func (t StripTable) FieldFor(err error) (string, bool) {
	code, ok := CodeOf(err)
	if !ok {
		return "", false
	}
	field, ok := t[code]
	return field, ok
}

// Fields returns the number of distinct strippable fields. It bounds the
// retry loop of a create or update.
func (t StripTable) Fields() int {
	seen := make(map[string]struct{}, len(t))
	for _, f := range t {
		seen[f] = struct{}{}
	}
	return len(seen)
}
