// Package wpbot 是一个通过 webhook 接收消息的对话机器人
package wpbot

import (
	"net/http"

	"go.uber.org/zap"
)

// Bot 把会话存储, 命令分发和回复引擎组合在一起
type Bot struct {
	logger   *zap.Logger
	config   *Config
	sessions *SessionStore
	commands *Dispatcher
	replies  *ReplyEngine
	metrics  *metrics
}

// New 创建一个新的Bot实例, archive 为 nil 时历史只保存在内存中
func New(logger *zap.Logger, cfg *Config, completer Completer, archive Archive) *Bot {
	logger = logger.Named("Bot")
	sessions := NewSessionStore(logger, cfg.MaxHistoryLength, archive)
	m := newMetrics(sessions)

	return &Bot{
		logger:   logger,
		config:   cfg,
		sessions: sessions,
		commands: NewDispatcher(logger, cfg, sessions),
		replies:  newReplyEngine(logger, cfg, sessions, completer, m),
		metrics:  m,
	}
}

// Sessions 返回会话存储
func (b *Bot) Sessions() *SessionStore {
	return b.sessions
}

// MetricsHandler 返回 Prometheus 指标的 http.Handler
func (b *Bot) MetricsHandler() http.Handler {
	return b.metrics.handler()
}
