package doc

import (
	"context"
	"testing"

	"github.com/emrgen/cdr/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionFor(f *fixture, user string) *session.Session {
	return session.New(f.st, user, nil)
}

func TestCheckOut(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{Unlock: true})

	require.NoError(t, d.CheckOut(ctx, CheckOutOptions{Comment: "editing"}))
	// checking out again is a no-op
	require.NoError(t, d.CheckOut(ctx, CheckOutOptions{}))

	other, err := Open(ctx, sessionFor(f, "other"), f.env, d.ID(), "")
	require.NoError(t, err)
	err = other.CheckOut(ctx, CheckOutOptions{})
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.ErrorIs(t, err, ErrLockedByOther)
	assert.Equal(t, "editor", locked.User)
	assert.Equal(t, d.CdrID(), locked.DocID)

	other.SetXML(`<Summary><Title>Theirs</Title><Foo>f</Foo></Summary>`)
	err = other.Save(ctx, SaveOptions{})
	assert.ErrorIs(t, err, ErrLockedByOther)

	require.NoError(t, other.CheckOut(ctx, CheckOutOptions{Force: true}))
	lock, err := d.Lock(ctx)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "other", lock.Usr)

	err = d.Save(ctx, SaveOptions{})
	assert.ErrorIs(t, err, ErrLockedByOther)
}

func TestCheckOut_ForceDenied(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{})

	weak := session.New(f.st, "weak", session.StaticAuthorizer{
		session.ActionModifyDocument: {""},
	})
	other, err := Open(ctx, weak, f.env, d.ID(), "")
	require.NoError(t, err)

	err = other.CheckOut(ctx, CheckOutOptions{Force: true})
	var authErr *session.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, session.ActionForceCheckout, authErr.Action)

	lock, err := d.Lock(ctx)
	require.NoError(t, err)
	assert.Equal(t, "editor", lock.Usr)
}

func TestCheckIn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{})

	// unversioned changes are frozen on check-in
	require.NoError(t, d.CheckIn(ctx, CheckInOptions{Comment: "done"}))
	assert.Equal(t, 1, d.SavedVersion())
	last, err := d.LastVersion(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	assert.ErrorIs(t, d.CheckIn(ctx, CheckInOptions{}), ErrNotLocked)

	// nothing changed since version 1
	require.NoError(t, d.CheckOut(ctx, CheckOutOptions{}))
	require.NoError(t, d.CheckIn(ctx, CheckInOptions{}))
	last, err = d.LastVersion(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, last)

	require.NoError(t, d.CheckOut(ctx, CheckOutOptions{}))
	d.SetXML(`<Summary><Title>T2</Title><Foo>f</Foo></Summary>`)
	require.NoError(t, d.Save(ctx, SaveOptions{}))
	require.NoError(t, d.CheckIn(ctx, CheckInOptions{Abandon: true}))
	last, err = d.LastVersion(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, last)
	lock, err := d.Lock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestCheckIn_Force(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	d := f.saved(t, "Summary", `<Summary><Title>T</Title><Foo>f</Foo></Summary>`, SaveOptions{})

	other, err := Open(ctx, sessionFor(f, "other"), f.env, d.ID(), "")
	require.NoError(t, err)
	var locked *LockedError
	require.ErrorAs(t, other.CheckIn(ctx, CheckInOptions{}), &locked)

	require.NoError(t, other.CheckIn(ctx, CheckInOptions{Force: true, Abandon: true}))
	lock, err := d.Lock(ctx)
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestCheckOut_Unsaved(t *testing.T) {
	f := setup(t)
	d := New(f.sess, f.env, "Summary", "<Summary/>")
	assert.ErrorIs(t, d.CheckOut(context.Background(), CheckOutOptions{}), ErrNotSaved)
	assert.ErrorIs(t, d.CheckIn(context.Background(), CheckInOptions{}), ErrNotSaved)
}
