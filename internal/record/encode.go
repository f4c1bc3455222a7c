package record

import (
	"fmt"

	"github.com/smalltalk/internal/model"
)

// EncodeMessage превращает m в документ хранилища. Идентификатор в документ не входит,
// хранилище держит его ключом.
func EncodeMessage(m model.Message) (Document, error) {
	kinds := make([]any, 0, len(m.Content))
	for i, item := range m.Content {
		d, err := encodeContentItem(item)
		if err != nil {
			return nil, fmt.Errorf("record.EncodeMessage: %s[%d]: %w", FieldKind, i, err)
		}
		kinds = append(kinds, d)
	}
	doc := Document{
		FieldKind:      kinds,
		FieldUserID:    m.AuthorID,
		FieldTimestamp: m.CreatedAt.UTC(),
	}
	if m.ChatID != "" {
		doc[FieldChatID] = m.ChatID
	}
	return doc, nil
}

func encodeContentItem(item model.ContentItem) (Document, error) {
	switch v := item.(type) {
	case model.Text:
		return Document{fieldTag: string(model.KindText), FieldText: v.Body}, nil
	case model.Image:
		return Document{
			fieldTag:  string(model.KindImage),
			fieldPath: v.Path,
			fieldSize: Document{fieldWidth: v.Size.Width, fieldHeight: v.Size.Height},
		}, nil
	case model.Audio:
		return Document{fieldTag: string(model.KindAudio), fieldPath: v.Path}, nil
	case model.Forward:
		return Document{fieldTag: string(model.KindForward), FieldUserID: v.UserID}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownContentTag, item)
}

// EncodeChat превращает c в документ хранилища. Снимок последнего сообщения вкладывается
// со своим documentId: отдельного ключа у него нет.
func EncodeChat(c model.Chat) (Document, error) {
	users := make([]any, len(c.Users))
	for i, u := range c.Users {
		users[i] = u
	}
	t, err := EncodeChatType(c.Type)
	if err != nil {
		return nil, err
	}
	doc := Document{
		FieldUsers: users,
		FieldType:  t,
	}
	if c.LastMessage != nil {
		lm, err := EncodeLastMessage(*c.LastMessage)
		if err != nil {
			return nil, err
		}
		doc[FieldLastMessage] = lm
	}
	return doc, nil
}

// EncodeLastMessage: денормализованный снимок сообщения в документе чата.
func EncodeLastMessage(m model.Message) (Document, error) {
	doc, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	if m.ID != model.NoDocumentID {
		doc[FieldDocumentID] = m.ID
	}
	return doc, nil
}

// EncodeChatType формирует поле "type" документа чата.
func EncodeChatType(t model.ChatType) (Document, error) {
	switch v := t.(type) {
	case model.SelfNotes:
		return Document{fieldTag: tagSavedMessages}, nil
	case model.Direct:
		return Document{fieldTag: tagPersonalCorr, fieldBetween: []any{v.Between[0], v.Between[1]}}, nil
	case model.Group:
		d := Document{
			fieldTag:          tagGroupChat,
			fieldTitle:        v.Title,
			fieldAdminID:      v.AdminID,
			fieldAvatarExists: v.AvatarExists,
		}
		if v.HexColor != nil {
			d[fieldHexColor] = *v.HexColor
		}
		return d, nil
	}
	return nil, fmt.Errorf("record.EncodeChatType: %w: unsupported chat type %T", ErrMalformedRecord, t)
}
