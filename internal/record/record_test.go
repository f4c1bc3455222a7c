package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/smalltalk/internal/model"
)

var when = time.Date(2024, 3, 8, 12, 30, 15, 250_000_000, time.UTC)

func textDoc(body string) Document {
	return Document{"enumCaseKey": "text", "text": body}
}

func messageDoc() Document {
	return Document{
		"kind":      []any{textDoc("hello")},
		"userId":    "u1",
		"timestamp": when,
	}
}

func TestDecodeMessageNativeAndLegacyTimestamp(t *testing.T) {
	legacyVariants := map[string]any{
		"int64":       map[string]any{"_seconds": when.Unix(), "_nanoseconds": int64(when.Nanosecond())},
		"float64":     map[string]any{"_seconds": float64(when.Unix()), "_nanoseconds": float64(when.Nanosecond())},
		"json.Number": map[string]any{"_seconds": json.Number("1709901015"), "_nanoseconds": json.Number("250000000")},
		"bson.M":      primitive.M{"_seconds": int32(when.Unix()), "_nanoseconds": int32(when.Nanosecond())},
	}

	native, err := DecodeMessage(messageDoc(), "m1")
	if err != nil {
		t.Fatalf("native: %v", err)
	}
	if !native.CreatedAt.Equal(when) {
		t.Fatalf("native timestamp = %v, want %v", native.CreatedAt, when)
	}

	for name, ts := range legacyVariants {
		t.Run(name, func(t *testing.T) {
			doc := messageDoc()
			doc["timestamp"] = ts
			m, err := DecodeMessage(doc, "m1")
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if !m.CreatedAt.Equal(native.CreatedAt) {
				t.Errorf("legacy timestamp = %v, want %v", m.CreatedAt, native.CreatedAt)
			}
		})
	}

	t.Run("mongo DateTime", func(t *testing.T) {
		doc := messageDoc()
		doc["timestamp"] = primitive.NewDateTimeFromTime(when)
		m, err := DecodeMessage(doc, "m1")
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		if !m.CreatedAt.Equal(when) {
			t.Errorf("timestamp = %v, want %v", m.CreatedAt, when)
		}
	})
}

func TestDecodeMessageDocumentID(t *testing.T) {
	tests := []struct {
		name   string
		field  any
		hasKey bool
		extID  string
		want   string
	}{
		{"absent", nil, false, "", model.NoDocumentID},
		{"malformed", 42, true, "", model.NoDocumentID},
		{"empty string", "", true, "", model.NoDocumentID},
		{"from field", "doc-1", true, "", "doc-1"},
		{"external wins", "doc-1", true, "ext-1", "ext-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := messageDoc()
			if tt.hasKey {
				doc["documentId"] = tt.field
			}
			m, err := DecodeMessage(doc, tt.extID)
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if m.ID != tt.want {
				t.Errorf("ID = %q, want %q", m.ID, tt.want)
			}
		})
	}
}

func TestDecodeMessageContentKinds(t *testing.T) {
	doc := messageDoc()
	doc["kind"] = []any{
		map[string]any{"enumCaseKey": "forward", "userId": "u7"},
		textDoc("caption"),
		map[string]any{"enumCaseKey": "image", "path": "chats/c1/a.jpg", "size": map[string]any{"width": 1280, "height": 720.5}},
		map[string]any{"enumCaseKey": "audio", "path": "chats/c1/v.m4a"},
	}
	doc["chatId"] = "c1"

	m, err := DecodeMessage(doc, "m1")
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	want := model.Content{
		model.Forward{UserID: "u7"},
		model.Text{Body: "caption"},
		model.Image{Path: "chats/c1/a.jpg", Size: model.ImageSize{Width: 1280, Height: 720.5}},
		model.Audio{Path: "chats/c1/v.m4a"},
	}
	if !reflect.DeepEqual(m.Content, want) {
		t.Errorf("content = %#v, want %#v", m.Content, want)
	}
	if m.ChatID != "c1" || m.AuthorID != "u1" {
		t.Errorf("header = %+v", m)
	}
}

func TestDecodeMessageLegacyText(t *testing.T) {
	doc := Document{"text": "old", "userId": 12, "timestamp": when}
	m, err := DecodeMessage(doc, "m1")
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if m.AuthorID != "12" {
		t.Errorf("AuthorID = %q, want 12", m.AuthorID)
	}
	if !reflect.DeepEqual(m.Content, model.Content{model.Text{Body: "old"}}) {
		t.Errorf("content = %#v", m.Content)
	}
}

func TestDecodeMessageFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Document)
		want   error
	}{
		{"nil document", nil, ErrMalformedRecord},
		{"missing kind", func(d Document) { delete(d, "kind") }, ErrMalformedRecord},
		{"kind not list", func(d Document) { d["kind"] = "text" }, ErrMalformedRecord},
		{"empty kind", func(d Document) { d["kind"] = []any{} }, ErrMalformedRecord},
		{"missing author", func(d Document) { delete(d, "userId") }, ErrMalformedRecord},
		{"author wrong type", func(d Document) { d["userId"] = true }, ErrMalformedRecord},
		{"missing timestamp", func(d Document) { delete(d, "timestamp") }, ErrMalformedRecord},
		{"timestamp string", func(d Document) { d["timestamp"] = "2024-03-08" }, ErrMalformedRecord},
		{"legacy without nanos", func(d Document) { d["timestamp"] = map[string]any{"_seconds": 1} }, ErrMalformedRecord},
		{"legacy fractional seconds", func(d Document) { d["timestamp"] = map[string]any{"_seconds": 1.5, "_nanoseconds": 0} }, ErrMalformedRecord},
		{"legacy nanos out of range", func(d Document) {
			d["timestamp"] = map[string]any{"_seconds": 1, "_nanoseconds": int64(time.Second)}
		}, ErrMalformedRecord},
		{"unknown tag", func(d Document) { d["kind"] = []any{map[string]any{"enumCaseKey": "sticker"}} }, ErrUnknownContentTag},
		{"missing tag", func(d Document) { d["kind"] = []any{map[string]any{"text": "x"}} }, ErrMalformedRecord},
		{"text without body", func(d Document) { d["kind"] = []any{map[string]any{"enumCaseKey": "text"}} }, ErrMalformedRecord},
		{"image without size", func(d Document) {
			d["kind"] = []any{map[string]any{"enumCaseKey": "image", "path": "p"}}
		}, ErrMalformedRecord},
		{"audio without path", func(d Document) { d["kind"] = []any{map[string]any{"enumCaseKey": "audio"}} }, ErrMalformedRecord},
		{"forward not first", func(d Document) {
			d["kind"] = []any{textDoc("x"), map[string]any{"enumCaseKey": "forward", "userId": "u2"}}
		}, ErrMalformedRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var doc Document
			if tt.mutate != nil {
				doc = messageDoc()
				tt.mutate(doc)
			}
			_, err := DecodeMessage(doc, "m1")
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeMessage() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeChatWithoutLastMessage(t *testing.T) {
	c, err := DecodeChat(Document{"users": []any{1, 2}, "name": "Team"}, "c1")
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	if c.LastMessage != nil {
		t.Errorf("LastMessage = %+v, want nil", c.LastMessage)
	}
	if !reflect.DeepEqual(c.Users, []string{"1", "2"}) {
		t.Errorf("users = %v", c.Users)
	}
	g, ok := c.Type.(model.Group)
	if !ok || g.Title != "Team" || g.AdminID != "1" {
		t.Errorf("type = %#v", c.Type)
	}
}

func TestDecodeChatDerivedType(t *testing.T) {
	tests := []struct {
		users []any
		want  model.ChatKind
	}{
		{[]any{"a"}, model.ChatKindSelfNotes},
		{[]any{"a", "b"}, model.ChatKindDirect},
		{[]any{"a", "b", "c"}, model.ChatKindGroup},
	}
	for _, tt := range tests {
		c, err := DecodeChat(Document{"users": tt.users}, "")
		if err != nil {
			t.Fatalf("DecodeChat(%v): %v", tt.users, err)
		}
		if c.Type.Kind() != tt.want {
			t.Errorf("DecodeChat(%v) kind = %s, want %s", tt.users, c.Type.Kind(), tt.want)
		}
		if c.ID != model.NoDocumentID {
			t.Errorf("ID = %q, want none", c.ID)
		}
	}
}

func TestDecodeChatTypes(t *testing.T) {
	color := "#ff8800"
	tests := []struct {
		name string
		doc  Document
		want model.ChatType
	}{
		{
			"saved messages",
			Document{"users": []any{"a"}, "type": map[string]any{"enumCaseKey": "savedMessages"}},
			model.SelfNotes{},
		},
		{
			"personal",
			Document{"users": []any{"a", "b"}, "type": map[string]any{"enumCaseKey": "personalCorr", "between": []any{"b", "a"}}},
			model.Direct{Between: [2]string{"b", "a"}},
		},
		{
			"group minimal",
			Document{"users": []any{"a", "b"}, "type": map[string]any{"enumCaseKey": "chat", "title": "T", "adminId": "a"}},
			model.Group{Title: "T", AdminID: "a"},
		},
		{
			"group full",
			Document{"users": []any{"a"}, "type": map[string]any{
				"enumCaseKey": "chat", "title": "T", "adminId": "a", "hexColor": color, "isAvatarExists": true,
			}},
			model.Group{Title: "T", AdminID: "a", HexColor: &color, AvatarExists: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := DecodeChat(tt.doc, "c1")
			if err != nil {
				t.Fatalf("DecodeChat: %v", err)
			}
			if !reflect.DeepEqual(c.Type, tt.want) {
				t.Errorf("type = %#v, want %#v", c.Type, tt.want)
			}
		})
	}
}

func TestDecodeChatFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"missing users", Document{"name": "x"}},
		{"empty users", Document{"users": []any{}}},
		{"bad user", Document{"users": []any{"a", 1.5}}},
		{"type not map", Document{"users": []any{"a"}, "type": "savedMessages"}},
		{"unknown type", Document{"users": []any{"a"}, "type": map[string]any{"enumCaseKey": "channel"}}},
		{"pair mismatch", Document{"users": []any{"a", "b"}, "type": map[string]any{"enumCaseKey": "personalCorr", "between": []any{"a", "c"}}}},
		{"notes with two users", Document{"users": []any{"a", "b"}, "type": map[string]any{"enumCaseKey": "savedMessages"}}},
		{"group without admin", Document{"users": []any{"a"}, "type": map[string]any{"enumCaseKey": "chat", "title": "T"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeChat(tt.doc, "c1"); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("DecodeChat() error = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestDecodeChatDropsMalformedLastMessage(t *testing.T) {
	doc := Document{
		"users":       []any{"a", "b"},
		"lastMessage": map[string]any{"userId": "a"},
	}
	c, err := DecodeChat(doc, "c1")
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	if c.LastMessage != nil {
		t.Errorf("LastMessage = %+v, want nil", c.LastMessage)
	}
}

func TestDecodeChatLastMessage(t *testing.T) {
	lm := messageDoc()
	lm["documentId"] = "m9"
	c, err := DecodeChat(Document{"users": []any{"a", "b"}, "lastMessage": lm}, "c1")
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	if c.LastMessage == nil {
		t.Fatal("LastMessage is nil")
	}
	if c.LastMessage.ID != "m9" || c.LastMessage.ChatID != "c1" {
		t.Errorf("snapshot = %+v", c.LastMessage)
	}
}

func TestDecodeBatchSkipsBadRecords(t *testing.T) {
	bad := messageDoc()
	bad["kind"] = []any{map[string]any{"enumCaseKey": "poll"}}
	msgs := DecodeMessages([]Snapshot{
		{ID: "m1", Data: messageDoc()},
		{ID: "m2", Data: bad},
		{ID: "m3", Data: messageDoc()},
	})
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m3" {
		t.Errorf("DecodeMessages = %+v", msgs)
	}

	chats := DecodeChats([]Snapshot{
		{ID: "c1", Data: Document{"users": []any{"a"}}},
		{ID: "c2", Data: Document{}},
	})
	if len(chats) != 1 || chats[0].ID != "c1" {
		t.Errorf("DecodeChats = %+v", chats)
	}
}

func TestEncodeChatSurvivesJSONStore(t *testing.T) {
	color := "#00aaff"
	chat := model.NewGroupChat("a", "Team", []string{"b"}, &color)
	chat.ID = "c1"
	msg := model.Message{
		ID:        "m1",
		ChatID:    "c1",
		AuthorID:  "b",
		CreatedAt: when,
		Content:   model.Content{model.Forward{UserID: "b"}, model.Image{Path: "chats/c1/x.jpg", Size: model.ImageSize{Width: 10, Height: 20}}},
	}
	chat.LastMessage = &msg

	doc, err := EncodeChat(chat)
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}
	raw, err := json.Marshal(WithLegacyTimestamps(doc))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var stored Document
	if err := dec.Decode(&stored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := DecodeChat(stored, "c1")
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	if !reflect.DeepEqual(got.Users, chat.Users) || !reflect.DeepEqual(got.Type, chat.Type) {
		t.Errorf("chat = %+v, want %+v", got, chat)
	}
	if got.LastMessage == nil {
		t.Fatal("LastMessage lost")
	}
	if !got.LastMessage.CreatedAt.Equal(when) || got.LastMessage.ID != "m1" {
		t.Errorf("snapshot = %+v", got.LastMessage)
	}
	if !reflect.DeepEqual(got.LastMessage.Content, msg.Content) {
		t.Errorf("snapshot content = %#v", got.LastMessage.Content)
	}
}
