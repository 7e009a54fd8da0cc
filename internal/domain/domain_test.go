package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConversationStatus(t *testing.T) {
	for _, raw := range []string{"active", "Closed", " archived "} {
		s, err := ParseConversationStatus(raw)
		require.NoError(t, err, raw)
		require.True(t, s.Valid())
	}

	_, err := ParseConversationStatus("deleted")
	require.Error(t, err)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("assistant")
	require.NoError(t, err)
	require.Equal(t, RoleAgent, r)

	r, err = ParseRole("USER")
	require.NoError(t, err)
	require.Equal(t, RoleUser, r)

	_, err = ParseRole("system")
	require.Error(t, err)
}

func TestNewConversationStartsActive(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewConversation("c1", " Dana ", "dana@example.com", now)
	require.Equal(t, StatusActive, c.Status)
	require.Equal(t, "Dana", c.VisitorName)
	require.Nil(t, c.LastMessageAt)
	require.Equal(t, now, c.LastActivity())
}

func TestConversationFilterNormalize(t *testing.T) {
	f := ConversationFilter{Page: 0, Limit: 500, Search: "  dana "}.Normalize()
	require.Equal(t, 1, f.Page)
	require.Equal(t, MaxPageLimit, f.Limit)
	require.Equal(t, "dana", f.Search)
	require.Equal(t, 0, f.Offset())

	f = ConversationFilter{Page: 3, Limit: 0}.Normalize()
	require.Equal(t, DefaultPageLimit, f.Limit)
	require.Equal(t, 40, f.Offset())
}

func TestNewPagination(t *testing.T) {
	require.Equal(t, Pagination{Page: 1, Limit: 20, Total: 0, TotalPages: 0}, NewPagination(1, 20, 0))
	require.Equal(t, 3, NewPagination(1, 10, 21).TotalPages)
	require.Equal(t, 2, NewPagination(2, 10, 20).TotalPages)
}
