package record

import (
	"fmt"

	"github.com/smalltalk/internal/logger"
	"github.com/smalltalk/internal/model"
)

// DecodeMessage разбирает документ сообщения. id: ключ документа в хранилище,
// может быть пустым.
func DecodeMessage(doc Document, id string) (model.Message, error) {
	if doc == nil {
		return model.Message{}, malformed("document", "nil")
	}
	m := model.Message{ID: documentID(doc, id)}

	content, err := decodeContent(doc)
	if err != nil {
		return model.Message{}, err
	}
	m.Content = content

	author, ok := asID(doc[FieldUserID])
	if !ok {
		return model.Message{}, malformed(FieldUserID, "missing or not an id: %v", doc[FieldUserID])
	}
	m.AuthorID = author

	raw, ok := doc[FieldTimestamp]
	if !ok || raw == nil {
		return model.Message{}, malformed(FieldTimestamp, "missing")
	}
	if m.CreatedAt, err = decodeTimestamp(raw); err != nil {
		return model.Message{}, err
	}

	if chatID, ok := asString(doc[FieldChatID]); ok {
		m.ChatID = chatID
	}
	return m, nil
}

func decodeContent(doc Document) (model.Content, error) {
	raw, ok := doc[FieldKind]
	if !ok || raw == nil {
		// Старые записи без видов содержимого хранят просто текст.
		if text, ok := asString(doc[FieldText]); ok {
			return model.Content{model.Text{Body: text}}, nil
		}
		return nil, malformed(FieldKind, "missing")
	}
	items, ok := asSlice(raw)
	if !ok {
		return nil, malformed(FieldKind, "not a list: %T", raw)
	}
	if len(items) == 0 {
		return nil, malformed(FieldKind, "empty")
	}
	content := make(model.Content, 0, len(items))
	for i, v := range items {
		item, err := decodeContentItem(v)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", FieldKind, i, err)
		}
		if i > 0 && item.Kind() == model.KindForward {
			return nil, malformed(FieldKind, "forward item at position %d", i)
		}
		content = append(content, item)
	}
	return content, nil
}

func decodeContentItem(v any) (model.ContentItem, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, malformed("item", "not a map: %T", v)
	}
	tag, ok := asString(m[fieldTag])
	if !ok {
		return nil, malformed(fieldTag, "missing or not a string")
	}
	switch model.ContentKind(tag) {
	case model.KindText:
		text, ok := asString(m[FieldText])
		if !ok {
			return nil, malformed(FieldText, "missing or not a string")
		}
		return model.Text{Body: text}, nil
	case model.KindImage:
		path, ok := asString(m[fieldPath])
		if !ok || path == "" {
			return nil, malformed(fieldPath, "missing image path")
		}
		sizeMap, ok := asMap(m[fieldSize])
		if !ok {
			return nil, malformed(fieldSize, "missing image size")
		}
		w, okW := asFloat(sizeMap[fieldWidth])
		h, okH := asFloat(sizeMap[fieldHeight])
		if !okW || !okH {
			return nil, malformed(fieldSize, "width and height must be numbers")
		}
		return model.Image{Path: path, Size: model.ImageSize{Width: w, Height: h}}, nil
	case model.KindAudio:
		path, ok := asString(m[fieldPath])
		if !ok || path == "" {
			return nil, malformed(fieldPath, "missing audio path")
		}
		return model.Audio{Path: path}, nil
	case model.KindForward:
		userID, ok := asID(m[FieldUserID])
		if !ok {
			return nil, malformed(FieldUserID, "missing forwarder")
		}
		return model.Forward{UserID: userID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownContentTag, tag)
}

// DecodeChat разбирает документ чата. Битый lastMessage отбрасывается с записью в лог,
// сам чат при этом разбирается.
func DecodeChat(doc Document, id string) (model.Chat, error) {
	if doc == nil {
		return model.Chat{}, malformed("document", "nil")
	}
	c := model.Chat{ID: documentID(doc, id)}

	rawUsers, ok := asSlice(doc[FieldUsers])
	if !ok {
		return model.Chat{}, malformed(FieldUsers, "missing or not a list")
	}
	if len(rawUsers) == 0 {
		return model.Chat{}, malformed(FieldUsers, "empty")
	}
	c.Users = make([]string, 0, len(rawUsers))
	for i, u := range rawUsers {
		uid, ok := asID(u)
		if !ok {
			return model.Chat{}, malformed(FieldUsers, "element %d is not an id: %v", i, u)
		}
		c.Users = append(c.Users, uid)
	}

	if raw, ok := doc[FieldType]; ok && raw != nil {
		t, err := decodeChatType(raw)
		if err != nil {
			return model.Chat{}, err
		}
		c.Type = t
	} else {
		c.Type = deriveChatType(doc, c.Users)
	}

	if raw, ok := doc[FieldLastMessage]; ok && raw != nil {
		if lm, err := decodeLastMessage(raw, c.ID); err != nil {
			logger.Errorf("record: chat %s: drop lastMessage: %v", c.ID, err)
		} else {
			c.LastMessage = &lm
		}
	}

	if err := c.Validate(); err != nil {
		return model.Chat{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return c, nil
}

func decodeLastMessage(raw any, chatID string) (model.Message, error) {
	m, ok := asMap(raw)
	if !ok {
		return model.Message{}, malformed(FieldLastMessage, "not a map: %T", raw)
	}
	lm, err := DecodeMessage(m, "")
	if err != nil {
		return model.Message{}, err
	}
	if lm.ChatID == "" {
		lm.ChatID = chatID
	}
	return lm, nil
}

func decodeChatType(raw any) (model.ChatType, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, malformed(FieldType, "not a map: %T", raw)
	}
	tag, ok := asString(m[fieldTag])
	if !ok {
		return nil, malformed(FieldType, "missing %s", fieldTag)
	}
	switch tag {
	case tagSavedMessages:
		return model.SelfNotes{}, nil
	case tagPersonalCorr:
		pair, ok := asSlice(m[fieldBetween])
		if !ok || len(pair) != 2 {
			return nil, malformed(fieldBetween, "want exactly two ids")
		}
		a, okA := asID(pair[0])
		b, okB := asID(pair[1])
		if !okA || !okB {
			return nil, malformed(fieldBetween, "ids must be strings or integers")
		}
		return model.Direct{Between: [2]string{a, b}}, nil
	case tagGroupChat:
		g := model.Group{}
		if g.Title, ok = asString(m[fieldTitle]); !ok {
			return nil, malformed(fieldTitle, "missing or not a string")
		}
		if g.AdminID, ok = asID(m[fieldAdminID]); !ok {
			return nil, malformed(fieldAdminID, "missing or not an id")
		}
		if color, ok := asString(m[fieldHexColor]); ok && color != "" {
			g.HexColor = &color
		}
		g.AvatarExists, _ = asBool(m[fieldAvatarExists])
		return g, nil
	}
	return nil, malformed(FieldType, "unknown chat type %q", tag)
}

// deriveChatType определяет вид для записей без поля "type".
func deriveChatType(doc Document, users []string) model.ChatType {
	if name, ok := asString(doc[FieldName]); ok {
		return model.Group{Title: name, AdminID: users[0]}
	}
	switch len(users) {
	case 1:
		return model.SelfNotes{}
	case 2:
		if users[0] != users[1] {
			return model.Direct{Between: [2]string{users[0], users[1]}}
		}
	}
	return model.Group{AdminID: users[0]}
}
