package doc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrNotSaved           = errors.New("document has not been saved")
	ErrNotLocked          = errors.New("document is not checked out")
	ErrLockedByOther      = errors.New("document is checked out by another user")
	ErrVersionNotFound    = errors.New("document version not found")
	ErrInvalidVersionSpec = errors.New("invalid version specification")
	ErrLabelNotFound      = errors.New("version label not found")
	ErrDuplicateTitle     = errors.New("title is already in use")
	ErrLinkedDocument     = errors.New("other documents link to this document")
	ErrPublished          = errors.New("document is in the current publishing collection")
	ErrExternalMapping    = errors.New("document has external mappings")
	ErrInvalidStatus      = errors.New("invalid active status")
	ErrNotMedia           = errors.New("blobs can only be purged from Media documents")
	ErrMissingDocType     = errors.New("document type is required")
	ErrTooDeep            = errors.New("document nesting too deep to index")
	ErrTooManySiblings    = errors.New("too many sibling elements to index")
	ErrAuditTimeout       = errors.New("timed out waiting for a free audit timestamp")
)

// LockedError reports the holder of a lock that blocked an operation.
type LockedError struct {
	DocID string
	User  string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s is checked out by user %s", e.DocID, e.User)
}

func (e *LockedError) Unwrap() error {
	return ErrLockedByOther
}

const (
	TypeValidation = "validation"
	TypeLink       = "link"
	TypeOther      = "other"

	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelFatal   = "fatal"
)

// Error is one diagnostic collected while validating or saving a document.
// Diagnostics are results, not failures of the operation which produced
// them.
type Error struct {
	Message string
	// Location is the breadcrumb id of the offending element, when known.
	Location string
	Type     string
	Level    string
}

func (e *Error) String() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Location != "" {
		fmt.Fprintf(&sb, " [at %s]", e.Location)
	}
	return sb.String()
}

// IsHard reports whether the diagnostic prevents a Valid status.
func (e *Error) IsHard() bool {
	return e.Level == LevelError || e.Level == LevelFatal
}

func (d *Doc) addError(message, location, typ, level string) *Error {
	e := &Error{Message: message, Location: location, Type: typ, Level: level}
	d.Errors = append(d.Errors, e)
	return e
}

// HasHardErrors reports whether any collected diagnostic is an error or
// worse.
func (d *Doc) HasHardErrors() bool {
	for _, e := range d.Errors {
		if e.IsHard() {
			return true
		}
	}
	return false
}

// ErrorsXML renders diagnostics in the legacy response form:
//
//	<Errors count="N"><Err etype="..." elevel="..." eref="...">text</Err></Errors>
func ErrorsXML(errs []*Error) (string, error) {
	doc := etree.NewDocument()
	root := doc.CreateElement("Errors")
	root.CreateAttr("count", fmt.Sprint(len(errs)))
	for _, e := range errs {
		el := root.CreateElement("Err")
		el.CreateAttr("etype", e.Type)
		el.CreateAttr("elevel", e.Level)
		if e.Location != "" {
			el.CreateAttr("eref", e.Location)
		}
		el.SetText(e.Message)
	}
	return doc.WriteToString()
}
