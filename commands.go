package wpbot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type commandHandlerFunc = func(ctx context.Context, userID string) (string, error)

// commandDescriptions 是内置命令在帮助信息中的说明, key 不带前缀
var commandDescriptions = map[string]string{
	"clear": "Clear conversation history",
	"help":  "Show this help message",
	"info":  "Show current bot configuration",
}

// Dispatcher 识别并执行命令
type Dispatcher struct {
	logger   *zap.Logger
	config   *Config
	sessions *SessionStore
	handlers map[string]commandHandlerFunc
}

// NewDispatcher 创建命令分发器
func NewDispatcher(logger *zap.Logger, cfg *Config, sessions *SessionStore) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.Named("Commands"),
		config:   cfg,
		sessions: sessions,
	}
	d.handlers = map[string]commandHandlerFunc{
		"clear": d.handleClear,
		"help":  d.handleHelp,
		"info":  d.handleInfo,
	}
	return d
}

// Classify 把消息分成命令或普通对话
// 只有去掉首尾空白后与允许列表中某一项完全相同(区分大小写)的文本才是命令
func (d *Dispatcher) Classify(text string) inbound {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, d.config.CommandPrefix) && d.config.IsAllowedCommand(trimmed) {
		return commandInbound{token: trimmed}
	}
	return freeformInbound{text: trimmed}
}

// IsCommand 判断文本是否是允许的命令
func (d *Dispatcher) IsCommand(text string) bool {
	_, ok := d.Classify(text).(commandInbound)
	return ok
}

// Dispatch 执行命令并返回回复
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, token string) (string, error) {
	if !d.config.IsAllowedCommand(token) {
		return "", &CommandError{Token: token}
	}

	name := strings.TrimPrefix(token, d.config.CommandPrefix)
	handler, ok := d.handlers[name]
	if !ok {
		return "", &CommandError{Token: token}
	}

	d.logger.Info("执行命令", zap.String("UserID", userID), zap.String("Command", token))
	return handler(ctx, userID)
}

func (d *Dispatcher) handleClear(ctx context.Context, userID string) (string, error) {
	d.sessions.Clear(ctx, userID)
	return "Conversation history cleared. What would you like to talk about?", nil
}

func (d *Dispatcher) handleHelp(_ context.Context, _ string) (string, error) {
	var sb strings.Builder
	sb.WriteString("WhatsApp OpenAI Bot Help:\n")
	for _, token := range d.config.AllowedCommands {
		desc, ok := commandDescriptions[strings.TrimPrefix(token, d.config.CommandPrefix)]
		if !ok {
			fmt.Fprintf(&sb, "- %s\n", token)
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s\n", token, desc)
	}
	sb.WriteString("Just type a message to chat with the AI assistant!")
	return sb.String(), nil
}

func (d *Dispatcher) handleInfo(ctx context.Context, userID string) (string, error) {
	cfg := d.config

	var sb strings.Builder
	sb.WriteString("Bot Configuration:\n")
	fmt.Fprintf(&sb, "- Model: %s\n", cfg.Model)
	fmt.Fprintf(&sb, "- Max history length: %d\n", cfg.MaxHistoryLength)
	fmt.Fprintf(&sb, "- Commands: %s", strings.Join(cfg.AllowedCommands, ", "))

	if !cfg.IsAdmin(userID) {
		return sb.String(), nil
	}

	fmt.Fprintf(&sb, "\n- System prompt: %s\n", cfg.SystemPrompt)
	fmt.Fprintf(&sb, "- Temperature: %g\n", cfg.Temperature)
	fmt.Fprintf(&sb, "- Max tokens: %d\n", cfg.MaxTokens)
	fmt.Fprintf(&sb, "- Completion timeout: %s\n", cfg.CompletionTimeout)
	fmt.Fprintf(&sb, "- Gateway: %s\n", cfg.Gateway)
	fmt.Fprintf(&sb, "- Active sessions: %d\n", d.sessions.Len())
	fmt.Fprintf(&sb, "- Your history: %d records", len(d.sessions.History(ctx, userID)))
	if count, ok := d.sessions.ArchivedCount(ctx, userID); ok {
		fmt.Fprintf(&sb, "\n- Archived records: %d", count)
	}

	return sb.String(), nil
}
