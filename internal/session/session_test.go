package session

import (
	"context"
	"os"
	"testing"

	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}

func TestStaticAuthorizer(t *testing.T) {
	auth := StaticAuthorizer{
		ActionAddDocument:    {"Summary"},
		ActionDeleteLinkType: {""},
	}
	tests := []struct {
		action  string
		docType string
		allowed bool
	}{
		{ActionAddDocument, "Summary", true},
		{ActionAddDocument, "Term", false},
		{ActionAddDocument, "", false},
		{ActionDeleteLinkType, "", true},
		{ActionDeleteLinkType, "Term", true},
		{ActionForceCheckout, "Summary", false},
	}
	for _, tt := range tests {
		t.Run(tt.action+"/"+tt.docType, func(t *testing.T) {
			ok, err := auth.CanDo(context.Background(), "anyone", tt.action, tt.docType)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, ok)
		})
	}
}

func TestStoreAuthorizer(t *testing.T) {
	st := tester.NewStore(t)
	ctx := context.Background()
	tester.Grant(t, st, "alice", ActionModifyDocument, "Summary")
	tester.Grant(t, st, "alice", ActionCreateLabel, "")

	auth := NewStoreAuthorizer(st)
	ok, err := auth.CanDo(ctx, "alice", ActionModifyDocument, "Summary")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.CanDo(ctx, "alice", ActionModifyDocument, "Term")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = auth.CanDo(ctx, "alice", ActionCreateLabel, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.CanDo(ctx, "bob", ActionCreateLabel, "")
	require.NoError(t, err)
	assert.False(t, ok)

	// grants are cached until forgotten
	require.NoError(t, st.SaveGroupAction(ctx, &model.GrpAction{Grp: "alice group", Action: ActionDeleteDocument, DocType: "Term"}))
	ok, err = auth.CanDo(ctx, "alice", ActionDeleteDocument, "Term")
	require.NoError(t, err)
	assert.False(t, ok)

	auth.Forget("alice")
	ok, err = auth.CanDo(ctx, "alice", ActionDeleteDocument, "Term")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSession_Require(t *testing.T) {
	st := tester.NewStore(t)
	ctx := context.Background()

	sess := New(st, "carol", StaticAuthorizer{ActionAddDocument: {"Term"}})
	assert.NotEmpty(t, sess.ID.String())
	assert.Equal(t, "cdr", sess.Program)
	require.NoError(t, sess.Require(ctx, ActionAddDocument, "Term"))

	err := sess.Require(ctx, ActionAddDocument, "Summary")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, ActionAddDocument, authErr.Action)
	assert.Equal(t, "user carol not authorized to ADD DOCUMENT for Summary documents", err.Error())

	err = sess.Require(ctx, ActionPurgeBlobs, "")
	assert.EqualError(t, err, "user carol not authorized to PURGE BLOBS")

	// a nil authorizer allows everything
	open := New(st, "dave", nil)
	require.NoError(t, open.Require(ctx, ActionForceCheckin, "Summary"))

	tx := sess.WithStore(st)
	assert.Equal(t, sess.ID, tx.ID)
	assert.Same(t, sess.Logger(), tx.Logger())
}
