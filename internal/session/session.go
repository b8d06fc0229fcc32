// Package session carries the acting user, a store connection and the
// permission checks consulted by every gated document operation.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/cdr/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	ActionAddDocument      = "ADD DOCUMENT"
	ActionModifyDocument   = "MODIFY DOCUMENT"
	ActionDeleteDocument   = "DELETE DOCUMENT"
	ActionValidateDocument = "VALIDATE DOCUMENT"
	ActionPublishDocument  = "PUBLISH DOCUMENT"
	ActionForceCheckout    = "FORCE CHECKOUT"
	ActionForceCheckin     = "FORCE CHECKIN"
	ActionAddLinkType      = "ADD LINKTYPE"
	ActionModifyLinkType   = "MODIFY LINKTYPE"
	ActionDeleteLinkType   = "DELETE LINKTYPE"
	ActionAddFilterSet     = "ADD FILTER SET"
	ActionModifyFilterSet  = "MODIFY FILTER SET"
	ActionDeleteFilterSet  = "DELETE FILTER SET"
	ActionCreateLabel      = "CREATE LABEL"
	ActionDeleteLabel      = "DELETE LABEL"
	ActionLabelDocument    = "LABEL DOCUMENT"
	ActionUnlabelDocument  = "UNLABEL DOCUMENT"
	ActionAddQueryTermDef  = "ADD QUERY TERM DEF"
	ActionDelQueryTermDef  = "DELETE QUERY TERM DEF"
	ActionFilterDocument   = "FILTER DOCUMENT"
	ActionPurgeBlobs       = "PURGE BLOBS"
)

// ErrNotAuthorized is wrapped by every AuthorizationError.
var ErrNotAuthorized = errors.New("not authorized")

// AuthorizationError reports a denied permission check.
type AuthorizationError struct {
	User    string
	Action  string
	DocType string
}

func (e *AuthorizationError) Error() string {
	if e.DocType != "" {
		return fmt.Sprintf("user %s not authorized to %s for %s documents", e.User, e.Action, e.DocType)
	}
	return fmt.Sprintf("user %s not authorized to %s", e.User, e.Action)
}

func (e *AuthorizationError) Unwrap() error {
	return ErrNotAuthorized
}

// Authorizer answers permission questions for a user.
type Authorizer interface {
	CanDo(ctx context.Context, user, action, docType string) (bool, error)
}

type Session struct {
	ID    uuid.UUID
	User  string
	Store store.Store
	// Program is recorded in audit rows.
	Program string
	auth    Authorizer
	log     *logrus.Entry
}

func New(s store.Store, user string, auth Authorizer) *Session {
	if auth == nil {
		auth = NullAuthorizer{}
	}
	id := uuid.New()
	return &Session{
		ID:      id,
		User:    user,
		Store:   s,
		Program: "cdr",
		auth:    auth,
		log: logrus.WithFields(logrus.Fields{
			"session": id.String(),
			"user":    user,
		}),
	}
}

// Logger returns a logger tagged with the session id and user.
func (s *Session) Logger() *logrus.Entry {
	return s.log
}

// CanDo reports whether the session user may perform an action, optionally
// for one doctype.
func (s *Session) CanDo(ctx context.Context, action, docType string) (bool, error) {
	return s.auth.CanDo(ctx, s.User, action, docType)
}

// Require returns an *AuthorizationError when the action is not allowed.
func (s *Session) Require(ctx context.Context, action, docType string) error {
	ok, err := s.CanDo(ctx, action, docType)
	if err != nil {
		return err
	}
	if !ok {
		return &AuthorizationError{User: s.User, Action: action, DocType: docType}
	}
	return nil
}

// WithStore returns a copy of the session bound to another store, used to
// run reads inside an open transaction.
func (s *Session) WithStore(st store.Store) *Session {
	c := *s
	c.Store = st
	return &c
}
