package share

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/models"
	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/memory"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

var dbSeq atomic.Int64

func newService(t *testing.T) (*Service, *SQLRepository) {
	t.Helper()
	db, err := database.Open("sqlite3", fmt.Sprintf("file:shares%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLRepository(context.Background(), db)
	require.NoError(t, err)
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return svc, repo
}

func TestUpdateInvitees(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	err := svc.UpdateInvitees(ctx, "docs", "alice", []webdav.Sharee{
		{Href: "mailto:bob@example.org", Access: webdav.ShareAccessRead, Properties: map[string]string{davxml.DAV("displayname"): "Bob"}},
		{Href: "/principals/carol", Access: webdav.ShareAccessReadWrite, Comment: "hi"},
	})
	require.NoError(t, err)

	sharees, err := svc.Invitees(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, sharees, 2)

	assert.Equal(t, "/principals/carol", sharees[0].Href)
	assert.Equal(t, "/principals/carol", sharees[0].Principal)
	assert.Equal(t, webdav.ShareAccessReadWrite, sharees[0].Access)
	assert.Equal(t, webdav.InviteNoResponse, sharees[0].InviteStatus)
	assert.Equal(t, "hi", sharees[0].Comment)

	assert.Equal(t, "mailto:bob@example.org", sharees[1].Href)
	assert.Empty(t, sharees[1].Principal)
	assert.Equal(t, "Bob", sharees[1].Properties[davxml.DAV("displayname")])

	// 修改访问级别并撤销另一位
	err = svc.UpdateInvitees(ctx, "docs", "alice", []webdav.Sharee{
		{Href: "mailto:bob@example.org", Access: webdav.ShareAccessReadWrite},
		{Href: "/principals/carol", Access: webdav.ShareAccessNoAccess},
	})
	require.NoError(t, err)

	sharees, err = svc.Invitees(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, sharees, 1)
	assert.Equal(t, webdav.ShareAccessReadWrite, sharees[0].Access)

	err = svc.UpdateInvitees(ctx, "docs", "alice", []webdav.Sharee{{Href: "x", Access: webdav.ShareAccessSharedOwner}})
	assert.ErrorIs(t, err, ErrInvalidAccess)
}

func TestShareAPI(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	share, err := svc.CreateShare(ctx, "alice", &models.CreateShareRequest{Path: "/docs/", Href: "mailto:bob@example.org", Access: "read"})
	require.NoError(t, err)
	assert.Equal(t, "docs", share.Path)
	assert.Equal(t, "read", share.Access)
	assert.NotEqual(t, uuid.Nil, share.ID)

	_, err = svc.CreateShare(ctx, "alice", &models.CreateShareRequest{Path: "docs", Href: "x", Access: "no-access"})
	assert.ErrorIs(t, err, ErrInvalidAccess)
	_, err = svc.CreateShare(ctx, "alice", &models.CreateShareRequest{Href: "x", Access: "read"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	shares, err := svc.ListUserShares(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, shares, 1)
	shares, err = svc.ListUserShares(ctx, "bob")
	require.NoError(t, err)
	assert.NotNil(t, shares)
	assert.Empty(t, shares)

	assert.ErrorIs(t, svc.DeleteShare(ctx, share.ID, "bob"), ErrUnauthorized)
	require.NoError(t, svc.DeleteShare(ctx, share.ID, "alice"))
	assert.ErrorIs(t, svc.DeleteShare(ctx, share.ID, "alice"), ErrShareNotFound)
}

func TestTreeTracking(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	read := []webdav.Sharee{{Href: "mailto:bob@example.org", Access: webdav.ShareAccessRead}}

	for _, path := range []string{"a", "a/b", "a_c", "dst"} {
		require.NoError(t, svc.UpdateInvitees(ctx, path, "alice", read))
	}

	require.NoError(t, svc.MoveTree(ctx, "a", "dst"))
	for path, want := range map[string]int{"a": 0, "a/b": 0, "a_c": 1, "dst": 1, "dst/b": 1} {
		sharees, err := svc.Invitees(ctx, path)
		require.NoError(t, err)
		assert.Len(t, sharees, want, path)
	}

	require.NoError(t, svc.DeleteTree(ctx, "dst"))
	sharees, err := svc.Invitees(ctx, "dst/b")
	require.NoError(t, err)
	assert.Empty(t, sharees)
	sharees, err = svc.Invitees(ctx, "a_c")
	require.NoError(t, err)
	assert.Len(t, sharees, 1, "LIKE 通配符需要转义")
}

func TestResource(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	root := memory.NewRoot()
	require.NoError(t, root.CreateDirectory("docs"))
	node, err := root.Child("docs")
	require.NoError(t, err)

	res := svc.Wrap(ctx, "docs", node, "alice")
	assert.Equal(t, "docs", res.Name())
	assert.Equal(t, webdav.ShareAccessNotShared, res.ShareAccess())
	assert.Equal(t, res.ShareResourceURI(), svc.Wrap(ctx, "docs", node, "bob").ShareResourceURI())
	assert.Contains(t, res.ShareResourceURI(), "urn:uuid:")

	require.NoError(t, res.UpdateInvitees([]webdav.Sharee{{Href: "mailto:bob@example.org", Access: webdav.ShareAccessRead}}))
	assert.Equal(t, webdav.ShareAccessSharedOwner, res.ShareAccess())

	shares, err := svc.ListUserShares(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, shares, 1)
	assert.Equal(t, "docs", shares[0].Path)
}
