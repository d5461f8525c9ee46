package wpbot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(cfg *Config) (*Dispatcher, *SessionStore) {
	sessions := NewSessionStore(zap.NewNop(), cfg.MaxHistoryLength, nil)
	return NewDispatcher(zap.NewNop(), cfg, sessions), sessions
}

func TestDispatcher_IsCommand(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	tests := []struct {
		text string
		want bool
	}{
		{"!clear", true},
		{"!help", true},
		{"  !info\n", true},
		{"!Clear", false},
		{"!CLEAR", false},
		{"!clr", false},
		{"!clear now", false},
		{"!cle", false},
		{"!bogus", false},
		{"!", false},
		{"clear", false},
		{"hello", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsCommand(tt.text))
		})
	}
}

func TestDispatcher_ClassifyFreeformKeepsTrimmedText(t *testing.T) {
	d, _ := newTestDispatcher(testConfig())

	in, ok := d.Classify("  !bogus  ").(freeformInbound)
	require.True(t, ok)
	assert.Equal(t, "!bogus", in.text)
}

func TestDispatcher_Clear(t *testing.T) {
	ctx := context.Background()
	d, sessions := newTestDispatcher(testConfig())
	sessions.Append(ctx, "u", RoleUser, "hi")

	reply, err := d.Dispatch(ctx, "u", "!clear")
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.Empty(t, sessions.History(ctx, "u"))
}

func TestDispatcher_HelpListsAllowedCommands(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedCommands = []string{"!help", "!clear"}
	d, _ := newTestDispatcher(cfg)

	reply, err := d.Dispatch(context.Background(), "u", "!help")
	require.NoError(t, err)
	assert.Contains(t, reply, "!help: Show this help message")
	assert.Contains(t, reply, "!clear: Clear conversation history")
	assert.NotContains(t, reply, "!info")
}

func TestDispatcher_InfoHidesAdminFields(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.AdminUsers = []string{"admin"}
	cfg.SystemPrompt = "secret prompt"
	d, _ := newTestDispatcher(cfg)

	reply, err := d.Dispatch(ctx, "someone", "!info")
	require.NoError(t, err)
	assert.Contains(t, reply, "Model: "+cfg.Model)
	assert.Contains(t, reply, "Max history length: 2")
	assert.Contains(t, reply, "!clear, !help, !info")
	assert.NotContains(t, reply, "secret prompt")

	reply, err = d.Dispatch(ctx, "admin", "!info")
	require.NoError(t, err)
	assert.Contains(t, reply, "System prompt: secret prompt")
	assert.Contains(t, reply, "Active sessions:")
	assert.NotContains(t, reply, "Archived records")
}

func TestDispatcher_AllowedButUnknownCommand(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedCommands = append(cfg.AllowedCommands, "!ping")
	d, _ := newTestDispatcher(cfg)

	require.True(t, d.IsCommand("!ping"))

	_, err := d.Dispatch(context.Background(), "u", "!ping")
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "!ping", cmdErr.Token)
}

func TestDispatcher_RejectsTokenOutsideAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedCommands = []string{"!help"}
	d, _ := newTestDispatcher(cfg)

	_, err := d.Dispatch(context.Background(), "u", "!clear")
	var cmdErr *CommandError
	assert.True(t, errors.As(err, &cmdErr))
}

func TestDispatcher_CustomPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.CommandPrefix = "/"
	cfg.AllowedCommands = []string{"/clear", "/help"}
	d, _ := newTestDispatcher(cfg)

	assert.True(t, d.IsCommand("/help"))
	assert.False(t, d.IsCommand("!help"))

	reply, err := d.Dispatch(context.Background(), "u", "/help")
	require.NoError(t, err)
	assert.Contains(t, reply, "/clear: Clear conversation history")
}
