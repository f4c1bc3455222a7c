package ws

import (
	"github.com/smalltalk/internal/model"
)

type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventChatUpdated EventType = "chat_updated"
	EventTyping      EventType = "typing"
	EventError       EventType = "error"
)

// IncomingMessage: то, что клиент шлёт серверу.
type IncomingMessage struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id,omitempty"`
}

// OutgoingMessage: то, что сервер шлёт клиенту.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessagePayload: новое сообщение с готовым решением о группировке: Merged означает,
// что оно рисуется вместе с предыдущим сообщением чата.
type MessagePayload struct {
	Message  model.Message `json:"message"`
	Incoming bool          `json:"incoming"`
	Merged   bool          `json:"merged"`
}

// ChatPayload рассылается при создании чата и смене состава.
// Removed ставится получателю, который больше не участник.
type ChatPayload struct {
	Chat    model.Chat `json:"chat"`
	Removed bool       `json:"removed,omitempty"`
}

type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}
