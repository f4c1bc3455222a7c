package model

import (
	"errors"
	"fmt"
	"time"
)

// NoDocumentID: идентификатор ещё не сохранённой записи.
const NoDocumentID = ""

var ErrInvalidMessage = errors.New("invalid message")

type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	Content   Content   `json:"content"`
}

func NewTextMessage(chatID, authorID, body string, now time.Time) Message {
	return Message{ChatID: chatID, AuthorID: authorID, CreatedAt: now, Content: Content{Text{Body: body}}}
}

func NewImageMessage(chatID, authorID, path string, size ImageSize, now time.Time) Message {
	return Message{ChatID: chatID, AuthorID: authorID, CreatedAt: now, Content: Content{Image{Path: path, Size: size}}}
}

func NewAudioMessage(chatID, authorID, path string, now time.Time) Message {
	return Message{ChatID: chatID, AuthorID: authorID, CreatedAt: now, Content: Content{Audio{Path: path}}}
}

// Validate проверяет автора, непустое содержимое и что Forward стоит только первым.
func (m Message) Validate() error {
	if m.AuthorID == "" {
		return fmt.Errorf("%w: empty author", ErrInvalidMessage)
	}
	if len(m.Content) == 0 {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	for i, item := range m.Content {
		if item == nil {
			return fmt.Errorf("%w: nil content item at %d", ErrInvalidMessage, i)
		}
		if i > 0 && item.Kind() == KindForward {
			return fmt.Errorf("%w: forward item at position %d", ErrInvalidMessage, i)
		}
	}
	return nil
}

func (m Message) IsPersisted() bool { return m.ID != NoDocumentID }

// IsIncoming сообщает, написано ли сообщение не viewerID.
func (m Message) IsIncoming(viewerID string) bool {
	return m.AuthorID != viewerID
}

// ForwardedBy возвращает переславшего, если сообщение начинается с Forward.
func (m Message) ForwardedBy() (string, bool) {
	if len(m.Content) == 0 {
		return "", false
	}
	if f, ok := m.Content[0].(Forward); ok {
		return f.UserID, true
	}
	return "", false
}

// Forward собирает несохранённую копию m для targetChatID от имени forwarderID.
func (m Message) Forward(forwarderID, targetChatID string, now time.Time) Message {
	return Message{
		ID:        NoDocumentID,
		ChatID:    targetChatID,
		AuthorID:  forwarderID,
		CreatedAt: now,
		Content:   ForwardContent(m.Content, forwarderID),
	}
}

// Preview: однострочный текст для списка чатов.
func (m Message) Preview() string {
	forwarded := false
	for _, item := range m.Content {
		switch v := item.(type) {
		case Text:
			return v.Body
		case Image:
			return "Photo"
		case Audio:
			return "Voice message"
		case Forward:
			forwarded = true
		}
	}
	if forwarded {
		return "Forwarded message"
	}
	return ""
}
