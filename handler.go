package wpbot

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Handle 处理一条消息并返回要发回的文本, 返回值永远不为空
func (b *Bot) Handle(ctx context.Context, userID string, rawText string) (reply string) {
	chatText := strings.TrimSpace(rawText)
	if chatText == "" {
		b.metrics.recordMessage(routeEmpty)
		return b.config.DefaultResponse
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("处理消息时发生panic", zap.String("UserID", userID), zap.Any("Panic", r))
			b.metrics.recordError(errorKindPanic)
			reply = b.config.DefaultResponse
		}
		if strings.TrimSpace(reply) == "" {
			reply = b.config.DefaultResponse
		}
	}()

	b.logger.Info("收到消息",
		zap.String("UserID", userID),
		zap.String("Chat Text", chatText),
	)

	switch in := b.commands.Classify(chatText).(type) {
	case commandInbound:
		b.metrics.recordMessage(routeCommand)
		return b.handleCommand(ctx, userID, in.token)
	case freeformInbound:
		b.metrics.recordMessage(routeCompletion)
		return b.handleAiChat(ctx, userID, in.text)
	default:
		b.logger.Error("未知的消息类型", zap.String("UserID", userID))
		return b.config.DefaultResponse
	}
}

func (b *Bot) handleCommand(ctx context.Context, userID string, token string) string {
	reply, err := b.commands.Dispatch(ctx, userID, token)
	if err != nil {
		b.logger.Error("命令执行失败", zap.String("UserID", userID), zap.String("Command", token), zap.Error(err))
		b.metrics.recordError(errorKindCommand)
		return b.config.DefaultResponse
	}
	return reply
}

func (b *Bot) handleAiChat(ctx context.Context, userID string, chatText string) string {
	reply, err := b.replies.GenerateReply(ctx, userID, chatText)
	if err != nil {
		b.logger.Warn("模型调用失败, 使用默认回复", zap.String("UserID", userID), zap.Error(err))
		b.metrics.recordError(errorKindCompletion)
		return b.config.DefaultResponse
	}
	return reply
}
