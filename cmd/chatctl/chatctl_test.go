package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/itorigin/origin-chat/internal/chatclient"
	"github.com/itorigin/origin-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &out, "Delete?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "Delete? [y/N]")
	}
}

type fakeSession struct {
	sent   []string
	resets int
	err    error
}

func (f *fakeSession) Send(_ context.Context, text string, onToken func(string)) (*chatclient.Reply, error) {
	f.sent = append(f.sent, text)
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	onToken("echo: ")
	onToken(text)
	return &chatclient.Reply{ConversationID: "c1", Content: "echo: " + text}, nil
}

func (f *fakeSession) Reset() error {
	f.resets++
	return nil
}

func (f *fakeSession) ConversationID() string { return "c1" }

func TestChatLoop(t *testing.T) {
	sess := &fakeSession{}
	var out bytes.Buffer

	in := strings.NewReader("hello\n\n/id\n/new\nbye\n/quit\nignored\n")
	require.NoError(t, chatLoop(context.Background(), sess, in, &out))

	assert.Equal(t, []string{"hello", "bye"}, sess.sent)
	assert.Equal(t, 1, sess.resets)
	assert.Contains(t, out.String(), "echo: hello")
	assert.Contains(t, out.String(), "c1\n")
}

func TestChatLoopResetsUnknownConversation(t *testing.T) {
	sess := &fakeSession{err: &chatclient.APIError{StatusCode: 404, Message: "gone"}}
	var out bytes.Buffer

	require.NoError(t, chatLoop(context.Background(), sess, strings.NewReader("hi\n"), &out))
	assert.Equal(t, 1, sess.resets)
	assert.Contains(t, out.String(), "no longer exists")
}

func TestVisitorLabel(t *testing.T) {
	assert.Equal(t, "Dana <dana@example.com>", visitorLabel(&domain.Conversation{VisitorName: "Dana", VisitorEmail: "dana@example.com"}))
	assert.Equal(t, "dana@example.com", visitorLabel(&domain.Conversation{VisitorEmail: "dana@example.com"}))
	assert.Equal(t, "-", visitorLabel(&domain.Conversation{}))
}
