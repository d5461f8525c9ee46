package wpbot

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// fakeCompleter 记录收到的请求, 按顺序返回 replies; fn 不为 nil 时优先使用 fn
type fakeCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	fn       func(ctx context.Context, req CompletionRequest) (string, error)
	requests []CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeCompleter) calls() []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CompletionRequest(nil), f.requests...)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxHistoryLength = 2
	cfg.DefaultResponse = "I'm here to help!"
	cfg.AllowedCommands = []string{"!clear", "!help", "!info"}
	cfg.OpenAIAPIKey = "sk-test"
	cfg.TwilioAccountSID = "AC123"
	cfg.TwilioAuthToken = "token"
	return &cfg
}

func newTestBot(t *testing.T, cfg *Config, completer Completer) *Bot {
	t.Helper()
	return New(zap.NewNop(), cfg, completer, nil)
}

func texts(histories []Exchange) []string {
	out := make([]string, 0, len(histories))
	for _, h := range histories {
		out = append(out, string(h.Role)+":"+h.Text)
	}
	return out
}
