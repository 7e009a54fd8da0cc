package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

var base = time.UnixMilli(1_700_000_000_000).UTC()

func seedConversation(t *testing.T, repo Repository, id, email string, at time.Time) *domain.Conversation {
	t.Helper()
	conv := domain.NewConversation(id, "", email, at)
	first := domain.NewMessage(id+"-m0", id, domain.RoleUser, "hello", at)
	require.NoError(t, repo.CreateConversation(context.Background(), conv, first))
	return conv
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = ? AND b IN (?, ?) LIMIT ?`
	require.Equal(t, q, rebind(DriverSQLite, q))
	require.Equal(t, `SELECT * FROM t WHERE a = $1 AND b IN ($2, $3) LIMIT $4`, rebind(DriverPostgres, q))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.Error(t, err)
}

func TestCreateConversationWithFirstMessage(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	conv := seedConversation(t, repo, "c1", "dana@example.com", base)

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, got.Status)
	require.Equal(t, "dana@example.com", got.VisitorEmail)
	require.Equal(t, 1, got.MessageCount)
	require.NotNil(t, got.LastMessageAt)
	require.True(t, got.LastMessageAt.Equal(base))
	require.True(t, got.CreatedAt.Equal(base))
}

func TestCreateConversationIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "c1", "a@example.com", base)

	// Message ID collides with an existing row, so the conversation insert must roll back.
	conv := domain.NewConversation("c2", "", "b@example.com", base)
	dup := domain.NewMessage("c1-m0", "c2", domain.RoleUser, "hi", base)
	require.Error(t, repo.CreateConversation(ctx, conv, dup))

	_, err := repo.GetConversation(ctx, "c2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessageAdvancesLastMessageAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "c1", "a@example.com", base)

	later := base.Add(3 * time.Second)
	require.NoError(t, repo.AppendMessage(ctx, domain.NewMessage("m1", "c1", domain.RoleAgent, "hi there", later)))

	got, err := repo.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, got.MessageCount)
	require.True(t, got.LastMessageAt.Equal(later))
	require.True(t, got.CreatedAt.Equal(base))
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	repo := newTestStore(t)
	err := repo.AppendMessage(context.Background(), domain.NewMessage("m1", "missing", domain.RoleUser, "hi", base))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesOrderedWithTies(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "c1", "a@example.com", base)

	// Same millisecond as the first message; insertion order breaks the tie.
	require.NoError(t, repo.AppendMessage(ctx, domain.NewMessage("m1", "c1", domain.RoleAgent, "a1", base)))
	require.NoError(t, repo.AppendMessage(ctx, domain.NewMessage("m2", "c1", domain.RoleUser, "u2", base.Add(time.Millisecond))))
	require.NoError(t, repo.AppendMessage(ctx, domain.NewMessage("m3", "c1", domain.RoleAgent, "a2", base.Add(2*time.Millisecond))))

	msgs, err := repo.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	require.Equal(t, []string{"c1-m0", "m1", "m2", "m3"}, ids)
	require.Equal(t, domain.RoleAgent, msgs[1].Role)
}

func TestListConversationsFilterAndTotal(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)

	statuses := []domain.ConversationStatus{
		domain.StatusActive, domain.StatusClosed, domain.StatusArchived,
		domain.StatusClosed, domain.StatusActive, domain.StatusClosed,
	}
	for i, st := range statuses {
		id := string(rune('a'+i)) + "-conv"
		seedConversation(t, repo, id, id+"@example.com", base.Add(time.Duration(i)*time.Second))
		_, err := repo.UpdateConversationStatus(ctx, id, st, base)
		require.NoError(t, err)
	}

	closed := domain.StatusClosed
	page, total, err := repo.ListConversations(ctx, domain.ConversationFilter{Status: &closed, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	for _, c := range page {
		require.Equal(t, domain.StatusClosed, c.Status)
	}
	// Most recent activity first.
	require.Equal(t, "f-conv", page[0].ID)
	require.Equal(t, "d-conv", page[1].ID)

	page, total, err = repo.ListConversations(ctx, domain.ConversationFilter{Status: &closed, Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	require.Equal(t, "b-conv", page[0].ID)

	_, total, err = repo.ListConversations(ctx, domain.ConversationFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(6), total)
}

func TestListConversationsSearch(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "c1", "Dana@Example.com", base)
	seedConversation(t, repo, "c2", "dan_a@other.org", base)
	seedConversation(t, repo, "c3", "sam@example.com", base)

	page, total, err := repo.ListConversations(ctx, domain.ConversationFilter{Search: "dana@"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "c1", page[0].ID)

	// Underscore is matched literally, not as a wildcard.
	page, total, err = repo.ListConversations(ctx, domain.ConversationFilter{Search: "dan_"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "c2", page[0].ID)

	_, total, err = repo.ListConversations(ctx, domain.ConversationFilter{Search: "%"})
	require.NoError(t, err)
	require.Equal(t, int64(0), total)
}

func TestUpdateConversationStatus(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "c1", "a@example.com", base)

	at := base.Add(time.Minute)
	got, err := repo.UpdateConversationStatus(ctx, "c1", domain.StatusArchived, at)
	require.NoError(t, err)
	require.Equal(t, domain.StatusArchived, got.Status)
	require.True(t, got.UpdatedAt.Equal(at))

	got, err = repo.UpdateConversationStatus(ctx, "c1", domain.StatusActive, at)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, got.Status)

	got, err = repo.UpdateConversationStatus(ctx, "c1", domain.StatusActive, at)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, got.Status)

	_, err = repo.UpdateConversationStatus(ctx, "missing", domain.StatusClosed, at)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UpdateConversationStatus(ctx, "c1", domain.ConversationStatus("deleted"), at)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "c1", "a@example.com", base)
	seedConversation(t, repo, "c2", "b@example.com", base)
	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repo.AppendMessage(ctx, domain.NewMessage(id, "c1", domain.RoleAgent, "x", base.Add(time.Duration(i+1)*time.Second))))
	}

	deleted, err := repo.DeleteConversation(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(4), deleted)

	_, err = repo.GetConversation(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
	msgs, err := repo.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, msgs)

	other, err := repo.ListMessages(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, other, 1)

	_, err = repo.DeleteConversation(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArchiveInactive(t *testing.T) {
	ctx := context.Background()
	repo := newTestStore(t)
	seedConversation(t, repo, "old-active", "a@example.com", base)
	seedConversation(t, repo, "old-closed", "b@example.com", base)
	seedConversation(t, repo, "fresh", "c@example.com", base.Add(time.Hour))
	_, err := repo.UpdateConversationStatus(ctx, "old-closed", domain.StatusClosed, base)
	require.NoError(t, err)

	ids, err := repo.ArchiveInactive(ctx, base.Add(30*time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"old-active", "old-closed"}, ids)

	fresh, err := repo.GetConversation(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, fresh.Status)

	ids, err = repo.ArchiveInactive(ctx, base.Add(30*time.Minute), base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Empty(t, ids)
}
