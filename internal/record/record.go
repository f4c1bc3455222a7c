// Package record переводит слабо типизированные документы хранилища в значения model и обратно.
//
// Документы приходят как map со строковыми ключами; значения могут быть обычными типами Go,
// результатом encoding/json или BSON. Обязательные поля проверяются строго, необязательные
// мягко: отсутствующий или битый documentId даёт model.NoDocumentID, отсутствующий
// lastMessage даёт nil.
package record

import (
	"errors"
	"fmt"
	"time"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/model"
)

var (
	// ErrMalformedRecord: обязательное поле отсутствует или имеет не тот вид.
	// Вызывающий пропускает запись и продолжает с остальными.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnknownContentTag: у элемента содержимого неизвестный тег.
	ErrUnknownContentTag = errors.New("unknown content tag")
)

// Document: одна запись хранилища, имя поля к значению произвольного типа.
type Document map[string]any

// Snapshot: документ вместе с его ключом в хранилище.
type Snapshot struct {
	ID   string
	Data Document
}

// Имена полей документов. Это схема хранилища, менять нельзя.
const (
	FieldDocumentID  = "documentId"
	FieldUsers       = "users"
	FieldName        = "name"
	FieldLastMessage = "lastMessage"
	FieldType        = "type"
	FieldKind        = "kind"
	FieldText        = "text"
	FieldUserID      = "userId"
	FieldTimestamp   = "timestamp"
	FieldChatID      = "chatId"

	fieldTag          = "enumCaseKey"
	fieldPath         = "path"
	fieldSize         = "size"
	fieldWidth        = "width"
	fieldHeight       = "height"
	fieldBetween      = "between"
	fieldTitle        = "title"
	fieldAdminID      = "adminId"
	fieldHexColor     = "hexColor"
	fieldAvatarExists = "isAvatarExists"
	fieldSeconds      = "_seconds"
	fieldNanoseconds  = "_nanoseconds"
)

// Теги вида чата в поле "type".
const (
	tagSavedMessages = "savedMessages"
	tagPersonalCorr  = "personalCorr"
	tagGroupChat     = "chat"
)

func malformed(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedRecord, field, fmt.Sprintf(format, args...))
}

// documentID выбирает идентификатор записи: ключ из хранилища, затем поле documentId,
// затем model.NoDocumentID. Ошибок не бывает.
func documentID(doc Document, id string) string {
	if id != "" {
		return id
	}
	if s, ok := doc[FieldDocumentID].(string); ok && s != "" {
		return s
	}
	return model.NoDocumentID
}

// DecodeChats разбирает все снимки, битые пишет в лог и пропускает.
func DecodeChats(snaps []Snapshot) []model.Chat {
	chats := make([]model.Chat, 0, len(snaps))
	for _, s := range snaps {
		if c, ok := ChatFromSnapshot(s); ok {
			chats = append(chats, c)
		}
	}
	return chats
}

// DecodeMessages разбирает все снимки, битые пишет в лог и пропускает.
func DecodeMessages(snaps []Snapshot) []model.Message {
	msgs := make([]model.Message, 0, len(snaps))
	for _, s := range snaps {
		if m, ok := MessageFromSnapshot(s); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// ChatFromSnapshot разбирает s; при ошибке пишет в лог и возвращает false.
func ChatFromSnapshot(s Snapshot) (model.Chat, bool) {
	c, err := DecodeChat(s.Data, s.ID)
	if err != nil {
		logger.Errorf("record: skip chat %s: %v", s.ID, err)
		return model.Chat{}, false
	}
	return c, true
}

// MessageFromSnapshot разбирает s; при ошибке пишет в лог и возвращает false.
func MessageFromSnapshot(s Snapshot) (model.Message, bool) {
	m, err := DecodeMessage(s.Data, s.ID)
	if err != nil {
		logger.Errorf("record: skip message %s: %v", s.ID, err)
		return model.Message{}, false
	}
	return m, true
}

// Clone возвращает глубокую копию d. Вложенные map и списки копируются, прочие значения общие.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out, _ := cloneValue(d).(Document)
	return out
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		out := make(Document, len(m))
		for k, x := range m {
			out[k] = cloneValue(x)
		}
		return out
	}
	if s, ok := asSlice(v); ok {
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = cloneValue(x)
		}
		return out
	}
	return v
}

// Users читает список участников из документа чата, пропуская элементы, не являющиеся id.
// Хранилища индексируют по нему членство; полный разбор идёт через DecodeChat.
func Users(doc Document) []string {
	raw, _ := asSlice(doc[FieldUsers])
	users := make([]string, 0, len(raw))
	for _, u := range raw {
		if id, ok := asID(u); ok {
			users = append(users, id)
		}
	}
	return users
}

// Timestamp читает время создания сообщения в любой из двух кодировок.
func Timestamp(doc Document) (time.Time, error) {
	raw, ok := doc[FieldTimestamp]
	if !ok || raw == nil {
		return time.Time{}, malformed(FieldTimestamp, "missing")
	}
	return decodeTimestamp(raw)
}
