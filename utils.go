package wpbot

import "strings"

// buildPrompt 构建发给模型的消息序列: 系统提示词, 历史(从旧到新), 新消息
func (e *ReplyEngine) buildPrompt(histories []Exchange, chatText string) []Exchange {
	prompt := make([]Exchange, 0, len(histories)+2)
	if e.config.SystemPrompt != "" {
		prompt = append(prompt, e.buildSystemPromptMessage())
	}
	prompt = append(prompt, histories...)
	prompt = append(prompt, e.buildUserMessage(chatText))
	return prompt
}

// buildSystemPromptMessage 构建系统提示词消息, 它不会写进历史
func (e *ReplyEngine) buildSystemPromptMessage() Exchange {
	return Exchange{Role: RoleSystem, Text: e.config.SystemPrompt}
}

// buildUserMessage 构建用户消息
func (e *ReplyEngine) buildUserMessage(chatText string) Exchange {
	return Exchange{Role: RoleUser, Text: strings.TrimSpace(chatText)}
}

func (e *ReplyEngine) buildAssistantMessage(reply string) Exchange {
	return Exchange{Role: RoleAssistant, Text: reply}
}
