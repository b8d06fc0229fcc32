package session

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/store"
	"github.com/sirupsen/logrus"
)

var _ Authorizer = (*StoreAuthorizer)(nil)

// StoreAuthorizer grants actions through the group tables. Grants are
// loaded once per user.
type StoreAuthorizer struct {
	store  store.PermissionStore
	mu     sync.Mutex
	grants map[string]mapset.Set[string]
}

func NewStoreAuthorizer(s store.PermissionStore) *StoreAuthorizer {
	return &StoreAuthorizer{
		store:  s,
		grants: make(map[string]mapset.Set[string]),
	}
}

func grantKey(action, docType string) string {
	return action + "|" + docType
}

func (a *StoreAuthorizer) CanDo(ctx context.Context, user, action, docType string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	granted, ok := a.grants[user]
	if !ok {
		actions, err := a.store.ListGroupActions(ctx, user)
		if err != nil {
			return false, err
		}
		granted = mapset.NewThreadUnsafeSet[string]()
		for _, ga := range actions {
			granted.Add(grantKey(ga.Action, ga.DocType))
		}
		a.grants[user] = granted
	}

	if granted.Contains(grantKey(action, "")) {
		return true, nil
	}
	return docType != "" && granted.Contains(grantKey(action, docType)), nil
}

// Forget drops the cached grants of a user.
func (a *StoreAuthorizer) Forget(user string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.grants, user)
}

var _ Authorizer = NullAuthorizer{}

// NullAuthorizer allows everything.
type NullAuthorizer struct{}

func (NullAuthorizer) CanDo(ctx context.Context, user, action, docType string) (bool, error) {
	logrus.Debugf("null authorizer: %s %s %s", user, action, docType)
	return true, nil
}

// StaticAuthorizer grants a fixed list of actions; an empty doctype grants
// the action for all doctypes.
type StaticAuthorizer map[string][]string

func (s StaticAuthorizer) CanDo(ctx context.Context, user, action, docType string) (bool, error) {
	for _, dt := range s[action] {
		if dt == "" || dt == docType {
			return true, nil
		}
	}
	return false, nil
}
