package wpbot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(cfg *Config, completer Completer) (*ReplyEngine, *SessionStore) {
	sessions := NewSessionStore(zap.NewNop(), cfg.MaxHistoryLength, nil)
	return newReplyEngine(zap.NewNop(), cfg, sessions, completer, nil), sessions
}

func TestReplyEngine_PromptOrder(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxHistoryLength = 10
	cfg.SystemPrompt = "be nice"
	fc := &fakeCompleter{replies: []string{"third"}}
	e, sessions := newTestEngine(cfg, fc)

	sessions.Append(ctx, "u", RoleUser, "first")
	sessions.Append(ctx, "u", RoleAssistant, "second")

	reply, err := e.GenerateReply(ctx, "u", "question")
	require.NoError(t, err)
	assert.Equal(t, "third", reply)

	calls := fc.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, cfg.Model, calls[0].Model)
	assert.Equal(t,
		[]string{"system:be nice", "user:first", "assistant:second", "user:question"},
		texts(calls[0].Messages),
	)

	assert.Equal(t,
		[]string{"user:first", "assistant:second", "user:question", "assistant:third"},
		texts(sessions.History(ctx, "u")),
	)
}

func TestReplyEngine_NoSystemPrompt(t *testing.T) {
	cfg := testConfig()
	cfg.SystemPrompt = ""
	fc := &fakeCompleter{replies: []string{"ok"}}
	e, _ := newTestEngine(cfg, fc)

	_, err := e.GenerateReply(context.Background(), "u", "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:hi"}, texts(fc.calls()[0].Messages))
}

func TestReplyEngine_FailureLeavesHistoryUnchanged(t *testing.T) {
	ctx := context.Background()
	providerErr := errors.New("rate limited")

	tests := []struct {
		name    string
		fc      *fakeCompleter
		wantErr error
	}{
		{name: "provider error", fc: &fakeCompleter{err: providerErr}, wantErr: providerErr},
		{name: "empty reply", fc: &fakeCompleter{replies: []string{""}}, wantErr: errEmptyReply},
		{name: "blank reply", fc: &fakeCompleter{replies: []string{"  \n\t"}}, wantErr: errEmptyReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			e, sessions := newTestEngine(cfg, tt.fc)
			sessions.Append(ctx, "u", RoleUser, "kept")
			before := sessions.History(ctx, "u")

			reply, err := e.GenerateReply(ctx, "u", "hello")
			assert.Equal(t, cfg.DefaultResponse, reply)

			var compErr *CompletionError
			require.True(t, errors.As(err, &compErr))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, sessions.History(ctx, "u"))
		})
	}
}

func TestReplyEngine_TimeoutIsCompletionError(t *testing.T) {
	cfg := testConfig()
	cfg.CompletionTimeout = 20 * time.Millisecond
	fc := &fakeCompleter{fn: func(ctx context.Context, _ CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	e, sessions := newTestEngine(cfg, fc)

	reply, err := e.GenerateReply(context.Background(), "u", "slow")
	assert.Equal(t, cfg.DefaultResponse, reply)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, sessions.History(context.Background(), "u"))
}

func TestReplyEngine_NoLockHeldDuringCompletion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeCompleter{fn: func(context.Context, CompletionRequest) (string, error) {
		close(started)
		<-release
		return "done", nil
	}}
	e, sessions := newTestEngine(cfg, fc)

	result := make(chan string, 1)
	go func() {
		reply, _ := e.GenerateReply(ctx, "u", "hi")
		result <- reply
	}()
	<-started

	readDone := make(chan struct{})
	go func() {
		_ = sessions.History(ctx, "u")
		sessions.Append(ctx, "other", RoleUser, "x")
		close(readDone)
	}()

	select {
	case <-readDone:
	case <-time.After(time.Second):
		t.Fatal("session store blocked while a completion was in flight")
	}

	close(release)
	assert.Equal(t, "done", <-result)
	assert.Equal(t, []string{"user:hi", "assistant:done"}, texts(sessions.History(ctx, "u")))
}

func TestReplyEngine_SameUserDoesNotWaitOnSlowCompletion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxHistoryLength = 10
	cfg.CompletionTimeout = 0

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	fc := &fakeCompleter{fn: func(_ context.Context, req CompletionRequest) (string, error) {
		last := req.Messages[len(req.Messages)-1].Text
		if last == "first" {
			close(firstStarted)
			<-releaseFirst
		}
		return "re:" + last, nil
	}}
	e, sessions := newTestEngine(cfg, fc)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = e.GenerateReply(ctx, "u", "first")
	}()
	<-firstStarted

	secondDone := make(chan string, 1)
	go func() {
		reply, _ := e.GenerateReply(ctx, "u", "second")
		secondDone <- reply
	}()

	select {
	case reply := <-secondDone:
		assert.Equal(t, "re:second", reply)
	case <-time.After(time.Second):
		t.Fatal("second message from the same user waited on the first completion")
	}

	close(releaseFirst)
	<-firstDone

	assert.Equal(t,
		[]string{"user:second", "assistant:re:second", "user:first", "assistant:re:first"},
		texts(sessions.History(ctx, "u")),
	)
}
