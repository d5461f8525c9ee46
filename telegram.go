package wpbot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Telegram 的 typing 状态大约持续 5 秒, 需要在回复生成期间不断刷新
const typingRefreshInterval = 4 * time.Second

// TelegramGateway 通过 Telegram 长轮询收发消息, 用户ID是 Telegram 的数字ID
type TelegramGateway struct {
	logger  *zap.Logger
	handler MessageHandler
	token   string
	client  *bot.Bot
}

// NewTelegramGateway 创建 Telegram 网关
func NewTelegramGateway(logger *zap.Logger, cfg *Config, handler MessageHandler) *TelegramGateway {
	return &TelegramGateway{
		logger:  logger.Named("Telegram"),
		handler: handler,
		token:   cfg.TelegramToken,
	}
}

// Run 启动长轮询, 直到 ctx 结束
func (g *TelegramGateway) Run(ctx context.Context) error {
	if err := g.connect(); err != nil {
		return err
	}

	g.client.Start(ctx)
	return nil
}

// connect 创建 Bot API 客户端, 所有更新都交给 onUpdate
func (g *TelegramGateway) connect(opts ...bot.Option) error {
	opts = append(opts, bot.WithDefaultHandler(g.onUpdate))

	client, err := bot.New(g.token, opts...)
	if err != nil {
		return err
	}

	g.client = client
	g.logger.Info("Telegram客户端已就绪")
	return nil
}

func (g *TelegramGateway) onUpdate(ctx context.Context, client *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	chatID := msg.Chat.ID
	stopTyping := g.keepTyping(ctx, client, chatID)
	reply := g.handler.Handle(ctx, strconv.FormatInt(msg.From.ID, 10), msg.Text)
	stopTyping()

	_, err := client.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: reply})
	if err != nil {
		g.logger.Error("发送回复失败", zap.Int64("ChatID", chatID), zap.Error(err))
	}
}

// keepTyping 立即发送一次 typing 状态并在后台定时刷新, 返回的函数会等待后台 goroutine 退出
func (g *TelegramGateway) keepTyping(ctx context.Context, client *bot.Bot, chatID int64) func() {
	ctx, cancel := context.WithCancel(ctx)

	g.sendTyping(ctx, client, chatID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sendTyping(ctx, client, chatID)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (g *TelegramGateway) sendTyping(ctx context.Context, client *bot.Bot, chatID int64) {
	_, err := client.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil && ctx.Err() == nil {
		g.logger.Warn("发送typing状态失败", zap.Int64("ChatID", chatID), zap.Error(err))
	}
}
