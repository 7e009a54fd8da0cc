package agent

import (
	"context"
	"iter"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/itorigin/origin-chat/internal/store"
	"github.com/stretchr/testify/require"
)

// fakeProcessor replays scripted fragments and optionally fails afterwards.
type fakeProcessor struct {
	mu        sync.Mutex
	fragments []string
	err       error
	calls     [][]domain.ChatTurn
	closed    bool
}

func (f *fakeProcessor) Chat(ctx context.Context, turns []domain.ChatTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		f.calls = append(f.calls, append([]domain.ChatTurn(nil), turns...))
		fragments := append([]string(nil), f.fragments...)
		failWith := f.err
		f.mu.Unlock()

		for _, fragment := range fragments {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
		if failWith != nil {
			yield("", failWith)
		}
	}
}

func (f *fakeProcessor) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeProcessor) script(err error, fragments ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragments = fragments
	f.err = err
}

func (f *fakeProcessor) lastCall() []domain.ChatTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// stepClock advances one second on every read.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.UnixMilli(1_700_000_000_000).UTC()}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func countConversations(t *testing.T, repo store.Repository) int64 {
	t.Helper()
	_, total, err := repo.ListConversations(context.Background(), domain.ConversationFilter{})
	require.NoError(t, err)
	return total
}
