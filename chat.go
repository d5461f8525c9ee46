package wpbot

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

var errEmptyReply = errors.New("model returned an empty reply")

// ReplyEngine 把普通消息交给模型并记录这一轮对话
type ReplyEngine struct {
	logger    *zap.Logger
	config    *Config
	sessions  *SessionStore
	completer Completer
	metrics   *metrics
}

// newReplyEngine 创建回复引擎, m 可以为 nil
func newReplyEngine(logger *zap.Logger, cfg *Config, sessions *SessionStore, completer Completer, m *metrics) *ReplyEngine {
	return &ReplyEngine{
		logger:    logger.Named("Replies"),
		config:    cfg,
		sessions:  sessions,
		completer: completer,
		metrics:   m,
	}
}

// GenerateReply 调用一次模型并返回回复
//
// 失败时返回 DefaultResponse 和一个 *CompletionError, 历史不会被修改.
// 模型调用期间不持有任何会话锁, 同一用户的其他消息可以同时处理.
func (e *ReplyEngine) GenerateReply(ctx context.Context, userID string, text string) (string, error) {
	turn := e.sessions.Begin(ctx, userID)

	req := CompletionRequest{
		Model:    e.config.Model,
		Messages: e.buildPrompt(turn.History(), text),
	}

	reply, err := e.complete(ctx, req)
	if err != nil {
		return e.config.DefaultResponse, &CompletionError{Model: e.config.Model, Err: err}
	}

	recorded := turn.Commit(ctx, e.buildUserMessage(text), e.buildAssistantMessage(reply))

	e.logger.Info(
		"会话完成",
		zap.String("UserID", userID),
		zap.Int("PromptMessages", len(req.Messages)),
		zap.Bool("Recorded", recorded),
	)

	return reply, nil
}

func (e *ReplyEngine) complete(ctx context.Context, req CompletionRequest) (string, error) {
	if e.config.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.CompletionTimeout)
		defer cancel()
	}

	e.logger.Debug("调用API", zap.String("Model", req.Model))
	start := time.Now()
	reply, err := e.completer.Complete(ctx, req)
	e.metrics.observeCompletion(time.Since(start))
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}
