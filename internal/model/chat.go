package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

type ChatKind string

const (
	ChatKindSelfNotes ChatKind = "self_notes"
	ChatKindDirect    ChatKind = "direct"
	ChatKindGroup     ChatKind = "group"
)

var ErrInvalidChat = errors.New("invalid chat")

// ChatType: вид чата. Варианты: SelfNotes, Direct, Group.
type ChatType interface {
	Kind() ChatKind
	isChatType()
}

// SelfNotes: чат из одного участника, заметки для себя.
type SelfNotes struct{}

// Direct: переписка ровно двух пользователей, пара неупорядочена.
type Direct struct {
	Between [2]string `json:"between"`
}

type Group struct {
	Title        string  `json:"title"`
	AdminID      string  `json:"admin_id"`
	HexColor     *string `json:"hex_color,omitempty"`
	AvatarExists bool    `json:"avatar_exists"`
}

func (SelfNotes) Kind() ChatKind { return ChatKindSelfNotes }
func (Direct) Kind() ChatKind    { return ChatKindDirect }
func (Group) Kind() ChatKind     { return ChatKindGroup }

func (SelfNotes) isChatType() {}
func (Direct) isChatType()    {}
func (Group) isChatType()     {}

// Has сообщает, является ли userID одним из двух собеседников.
func (d Direct) Has(userID string) bool {
	return d.Between[0] == userID || d.Between[1] == userID
}

type Chat struct {
	ID          string   `json:"id"`
	Users       []string `json:"users"`
	LastMessage *Message `json:"last_message,omitempty"`
	Type        ChatType `json:"type"`
}

// NewDirectChat возвращает чат ownerID с otherID, а при совпадении id
// чат заметок владельца.
func NewDirectChat(ownerID, otherID string) Chat {
	if ownerID == otherID {
		return Chat{ID: NoDocumentID, Users: []string{ownerID}, Type: SelfNotes{}}
	}
	return Chat{
		ID:    NoDocumentID,
		Users: []string{ownerID, otherID},
		Type:  Direct{Between: [2]string{ownerID, otherID}},
	}
}

// NewGroupChat создаёт группу с администратором adminID. Администратор всегда первый участник.
func NewGroupChat(adminID, title string, members []string, hexColor *string) Chat {
	users := []string{adminID}
	for _, m := range members {
		if m != "" && !slices.Contains(users, m) {
			users = append(users, m)
		}
	}
	return Chat{
		ID:    NoDocumentID,
		Users: users,
		Type:  Group{Title: title, AdminID: adminID, HexColor: hexColor},
	}
}

func (c Chat) IsPersisted() bool { return c.ID != NoDocumentID }

func (c Chat) HasMember(userID string) bool {
	return slices.Contains(c.Users, userID)
}

func (c Chat) Validate() error {
	if len(c.Users) == 0 {
		return fmt.Errorf("%w: no members", ErrInvalidChat)
	}
	switch t := c.Type.(type) {
	case SelfNotes:
		if len(c.Users) != 1 {
			return fmt.Errorf("%w: self-notes with %d members", ErrInvalidChat, len(c.Users))
		}
	case Direct:
		if len(c.Users) != 2 || t.Between[0] == t.Between[1] ||
			!t.Has(c.Users[0]) || !t.Has(c.Users[1]) {
			return fmt.Errorf("%w: direct pair %v does not match members %v", ErrInvalidChat, t.Between, c.Users)
		}
	case Group:
	case nil:
		return fmt.Errorf("%w: missing type", ErrInvalidChat)
	default:
		return fmt.Errorf("%w: unknown type %T", ErrInvalidChat, t)
	}
	return nil
}

// FriendID возвращает собеседника в личном чате.
func (c Chat) FriendID(viewerID string) (string, bool) {
	d, ok := c.Type.(Direct)
	if !ok {
		return "", false
	}
	for _, id := range d.Between {
		if id != viewerID {
			return id, true
		}
	}
	return "", false
}

// AvatarPath: путь картинки чата в объектном хранилище, "" если её ещё нет.
func (c Chat) AvatarPath(viewerID string) string {
	switch c.Type.(type) {
	case Direct, SelfNotes:
		id, ok := c.FriendID(viewerID)
		if !ok {
			id = viewerID
		}
		if id == "" {
			return ""
		}
		return "users/" + id + "/avatar.jpg"
	case Group:
		if !c.IsPersisted() {
			return ""
		}
		return "chats/" + c.ID + "/avatar.jpg"
	}
	return ""
}

// AddMember возвращает копию группы с добавленным userID. Состав личных чатов и заметок не меняется.
func (c Chat) AddMember(userID string) (Chat, error) {
	if _, ok := c.Type.(Group); !ok {
		return c, fmt.Errorf("%w: members of a %s chat cannot change", ErrInvalidChat, kindOf(c.Type))
	}
	if userID == "" || c.HasMember(userID) {
		return c, nil
	}
	c.Users = append(slices.Clone(c.Users), userID)
	return c, nil
}

// RemoveMember возвращает копию группы без userID. Последнего участника удалить нельзя.
func (c Chat) RemoveMember(userID string) (Chat, error) {
	g, ok := c.Type.(Group)
	if !ok {
		return c, fmt.Errorf("%w: members of a %s chat cannot change", ErrInvalidChat, kindOf(c.Type))
	}
	if !c.HasMember(userID) {
		return c, nil
	}
	if len(c.Users) == 1 {
		return c, fmt.Errorf("%w: cannot remove the last member", ErrInvalidChat)
	}
	c.Users = slices.DeleteFunc(slices.Clone(c.Users), func(id string) bool { return id == userID })
	if g.AdminID == userID {
		g.AdminID = c.Users[0]
		c.Type = g
	}
	return c, nil
}

func (c Chat) MarshalJSON() ([]byte, error) {
	type alias Chat
	return json.Marshal(struct {
		alias
		Kind ChatKind `json:"kind"`
	}{alias(c), kindOf(c.Type)})
}

func kindOf(t ChatType) ChatKind {
	if t == nil {
		return ""
	}
	return t.Kind()
}
