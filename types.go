package wpbot

import (
	"context"
	"time"
)

// Role 标记一条记录是谁说的
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Exchange 是会话历史中的一条记录, 追加后不可修改
type Exchange struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// CompletionRequest 是发给模型的请求, Messages 按从旧到新排列
type CompletionRequest struct {
	Model    string
	Messages []Exchange
}

// Completer 把一段对话变成模型的回复
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// MessageHandler 是传输层调用的入口
type MessageHandler interface {
	Handle(ctx context.Context, userID string, rawText string) string
}

// inbound 是一条消息分类后的结果, 只有 commandInbound 和 freeformInbound 两种
type inbound interface {
	isInbound()
}

type commandInbound struct {
	token string
}

type freeformInbound struct {
	text string
}

func (commandInbound) isInbound() {}
func (freeformInbound) isInbound() {}
