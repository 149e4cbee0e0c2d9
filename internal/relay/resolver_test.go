package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quilldesk/chatrelay/internal/model/chat"
	"github.com/quilldesk/chatrelay/internal/store"
)

func TestResolverCreatesSessionOnFirstContact(t *testing.T) {
	repo := store.NewMemoryStore()
	resolver := NewResolver(repo)
	ctx := context.Background()

	session, err := resolver.Resolve(ctx, "v1", "")
	require.NoError(t, err)
	require.Equal(t, "v1", session.VisitorID)
	require.Equal(t, chat.StatusActive, session.Status)
}

func TestResolverIsIdempotentAcrossAttaches(t *testing.T) {
	repo := store.NewMemoryStore()
	resolver := NewResolver(repo)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "v1", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := resolver.Resolve(ctx, "v1", "")
		require.NoError(t, err)
		require.Equal(t, first.ID, again.ID, "sequential attaches must converge on one session")
	}
}

func TestResolverHonorsRequestedSession(t *testing.T) {
	repo := store.NewMemoryStore()
	resolver := NewResolver(repo)
	ctx := context.Background()

	session, err := repo.CreateSession(ctx, "v1", nil)
	require.NoError(t, err)

	resolved, err := resolver.Resolve(ctx, "v1", session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, resolved.ID)
}

func TestResolverNeverReusesClosedSession(t *testing.T) {
	repo := store.NewMemoryStore()
	resolver := NewResolver(repo)
	ctx := context.Background()

	session, err := repo.CreateSession(ctx, "v1", nil)
	require.NoError(t, err)
	session.Status = chat.StatusClosed
	require.NoError(t, repo.UpdateSession(ctx, session))

	resolved, err := resolver.Resolve(ctx, "v1", session.ID)
	require.NoError(t, err)
	require.NotEqual(t, session.ID, resolved.ID, "a closed session must never be reattached")
	require.Equal(t, chat.StatusActive, resolved.Status)
}

func TestResolverIgnoresUnknownRequestedSession(t *testing.T) {
	repo := store.NewMemoryStore()
	resolver := NewResolver(repo)
	ctx := context.Background()

	existing, err := repo.CreateSession(ctx, "v1", nil)
	require.NoError(t, err)

	resolved, err := resolver.Resolve(ctx, "v1", "never-existed")
	require.NoError(t, err)
	require.Equal(t, existing.ID, resolved.ID, "visitor's open session wins over an unknown id")
}

func TestResolverConvergesAcrossDevices(t *testing.T) {
	repo := store.NewMemoryStore()
	resolver := NewResolver(repo)
	ctx := context.Background()

	tabOne, err := resolver.Resolve(ctx, "v1", "")
	require.NoError(t, err)

	// Second device has no session id at all; it must land on the same
	// durable session.
	tabTwo, err := resolver.Resolve(ctx, "v1", "")
	require.NoError(t, err)
	require.Equal(t, tabOne.ID, tabTwo.ID)
}

func TestResolverRequiresVisitor(t *testing.T) {
	resolver := NewResolver(store.NewMemoryStore())

	_, err := resolver.Resolve(context.Background(), "", "")
	require.ErrorIs(t, err, store.ErrVisitorRequired)
}

func TestResolverPropagatesRepositoryFailure(t *testing.T) {
	boom := errors.New("repository down")
	repo := &flakyRepo{Repository: store.NewMemoryStore(), findErr: boom}
	resolver := NewResolver(repo)

	_, err := resolver.Resolve(context.Background(), "v1", "")
	require.ErrorIs(t, err, boom, "resolution must fail rather than fabricate a session")
}
