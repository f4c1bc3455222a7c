package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smalltalk/internal/model"
	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
	"github.com/smalltalk/internal/storage/memory"
)

type notification struct {
	userID, title, body string
	data                map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	got  []notification
	sent chan struct{}
}

func newFakeNotifier() *fakeNotifier { return &fakeNotifier{sent: make(chan struct{}, 16)} }

func (f *fakeNotifier) Notify(_ context.Context, userID, title, body string, data map[string]string) {
	f.mu.Lock()
	f.got = append(f.got, notification{userID, title, body, data})
	f.mu.Unlock()
	f.sent <- struct{}{}
}

type fixture struct {
	svc    *ChatService
	store  *memory.Store
	bus    *memory.Bus
	push   *fakeNotifier
	clock  time.Time
	update <-chan storage.Update
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		bus:   memory.NewBus(),
		push:  newFakeNotifier(),
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := f.bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.update = ch
	f.svc = NewChatService(f.store, f.bus, f.push)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) tick(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) nextUpdate(t *testing.T) storage.Update {
	t.Helper()
	select {
	case u := <-f.update:
		return u
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}
	return storage.Update{}
}

func text(s string) model.Content { return model.Content{model.Text{Body: s}} }

func TestOpenDirectReusesChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.OpenDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("OpenDirect: %v", err)
	}
	if first.ID == model.NoDocumentID {
		t.Fatal("chat not persisted")
	}
	if u := f.nextUpdate(t); u.Kind != storage.UpdateChat || u.ChatID != first.ID {
		t.Errorf("update = %+v", u)
	}

	again, err := f.svc.OpenDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("OpenDirect reverse: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("reverse direction created a second chat: %s vs %s", again.ID, first.ID)
	}

	notes, err := f.svc.OpenDirect(ctx, "alice", "alice")
	if err != nil {
		t.Fatalf("OpenDirect self: %v", err)
	}
	if _, ok := notes.Type.(model.SelfNotes); !ok || notes.ID == first.ID {
		t.Errorf("self chat = %+v", notes)
	}
}

func TestSendPersistsPublishesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.svc.CreateGroup(ctx, "alice", " Team ", []string{"bob", "carol"}, nil)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	f.nextUpdate(t)

	m, err := f.svc.Send(ctx, chat.ID, "alice", text("hello"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.ID == model.NoDocumentID || !m.CreatedAt.Equal(f.clock) {
		t.Errorf("message = %+v", m)
	}

	u := f.nextUpdate(t)
	if u.Kind != storage.UpdateMessage || u.DocID != m.ID || u.ChatID != chat.ID {
		t.Errorf("update = %+v", u)
	}
	decoded, err := record.DecodeMessage(u.Document, u.DocID)
	if err != nil || decoded.Preview() != "hello" {
		t.Errorf("update document decodes to %+v, %v", decoded, err)
	}

	for range 2 {
		select {
		case <-f.push.sent:
		case <-time.After(time.Second):
			t.Fatal("push not sent")
		}
	}
	f.push.mu.Lock()
	defer f.push.mu.Unlock()
	for _, n := range f.push.got {
		if n.userID == "alice" {
			t.Error("author notified about own message")
		}
		if n.title != "Team" || n.body != "hello" || n.data["message_id"] != m.ID {
			t.Errorf("notification = %+v", n)
		}
	}

	list, err := f.svc.ListChats(ctx, "bob")
	if err != nil || len(list) != 1 || list[0].LastMessage == nil || list[0].LastMessage.ID != m.ID {
		t.Errorf("ListChats = %+v, %v", list, err)
	}
}

func TestSendRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, _ := f.svc.OpenDirect(ctx, "alice", "bob")

	if _, err := f.svc.Send(ctx, chat.ID, "mallory", text("hi")); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member err = %v", err)
	}
	if _, err := f.svc.Send(ctx, chat.ID, "alice", nil); !errors.Is(err, model.ErrInvalidMessage) {
		t.Errorf("empty content err = %v", err)
	}
	if _, err := f.svc.Send(ctx, "missing", "alice", text("hi")); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing chat err = %v", err)
	}
	bad := model.Content{model.Text{Body: "x"}, model.Forward{UserID: "bob"}}
	if _, err := f.svc.Send(ctx, chat.ID, "alice", bad); !errors.Is(err, model.ErrInvalidMessage) {
		t.Errorf("misplaced forward err = %v", err)
	}
}

func TestSendTextAndMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, _ := f.svc.OpenDirect(ctx, "alice", "bob")

	m, err := f.svc.SendText(ctx, chat.ID, "alice", "hi")
	if err != nil || m.Preview() != "hi" || m.ID == model.NoDocumentID {
		t.Errorf("SendText = %+v, %v", m, err)
	}
	if _, err := f.svc.SendText(ctx, chat.ID, "alice", " \n"); !errors.Is(err, model.ErrInvalidMessage) {
		t.Errorf("blank text err = %v", err)
	}
	if _, err := f.svc.SendText(ctx, chat.ID, "mallory", "hi"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member err = %v", err)
	}

	size := model.ImageSize{Width: 640, Height: 480}
	img, err := f.svc.SendMedia(ctx, chat.ID, "bob", model.KindImage, "chats/c/a.png", size)
	if err != nil {
		t.Fatalf("SendMedia image: %v", err)
	}
	if got, ok := img.Content[0].(model.Image); !ok || got.Path != "chats/c/a.png" || got.Size != size {
		t.Errorf("image content = %+v", img.Content)
	}
	voice, err := f.svc.SendMedia(ctx, chat.ID, "bob", model.KindAudio, "chats/c/v.m4a", model.ImageSize{})
	if err != nil {
		t.Fatalf("SendMedia audio: %v", err)
	}
	if got, ok := voice.Content[0].(model.Audio); !ok || got.Path != "chats/c/v.m4a" {
		t.Errorf("audio content = %+v", voice.Content)
	}
	if _, err := f.svc.SendMedia(ctx, chat.ID, "bob", model.KindText, "x", size); !errors.Is(err, model.ErrInvalidMessage) {
		t.Errorf("text kind err = %v", err)
	}
	if _, err := f.svc.SendMedia(ctx, chat.ID, "bob", model.KindImage, "", size); !errors.Is(err, model.ErrInvalidMessage) {
		t.Errorf("empty path err = %v", err)
	}
}

func TestForwardReplacesAttribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ab, _ := f.svc.OpenDirect(ctx, "alice", "bob")
	bc, _ := f.svc.OpenDirect(ctx, "bob", "carol")
	ca, _ := f.svc.OpenDirect(ctx, "carol", "alice")

	orig, err := f.svc.Send(ctx, ab.ID, "alice", text("news"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	f.tick(time.Minute)
	fwd, err := f.svc.Forward(ctx, ab.ID, orig.ID, "bob", bc.ID)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if by, ok := fwd.ForwardedBy(); !ok || by != "bob" || fwd.AuthorID != "bob" || fwd.ChatID != bc.ID {
		t.Fatalf("forward = %+v", fwd)
	}

	f.tick(time.Minute)
	again, err := f.svc.Forward(ctx, bc.ID, fwd.ID, "carol", ca.ID)
	if err != nil {
		t.Fatalf("Forward again: %v", err)
	}
	if len(again.Content) != 2 {
		t.Fatalf("content = %+v, want forward + text", again.Content)
	}
	if by, _ := again.ForwardedBy(); by != "carol" {
		t.Errorf("ForwardedBy = %q, want carol", by)
	}

	if _, err := f.svc.Forward(ctx, ab.ID, orig.ID, "carol", ca.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("forward from foreign chat err = %v", err)
	}
	if _, err := f.svc.Forward(ctx, ab.ID, "nope", "alice", ca.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing message err = %v", err)
	}
}

func TestWindowGroupsOldestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, _ := f.svc.OpenDirect(ctx, "alice", "bob")

	send := func(author, body string, gap time.Duration) {
		t.Helper()
		f.tick(gap)
		if _, err := f.svc.Send(ctx, chat.ID, author, text(body)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	send("alice", "1", 0)
	send("alice", "2", time.Minute)
	send("alice", "3", 5*time.Minute)
	send("bob", "4", time.Second)

	rows, err := f.svc.Window(ctx, chat.ID, "bob", time.Time{}, 0)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	want := []struct {
		body       string
		incoming   bool
		prev, next bool
	}{
		{"1", true, false, true},
		{"2", true, true, false},
		{"3", true, false, false},
		{"4", false, false, false},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, w := range want {
		r := rows[i]
		if r.Message.Preview() != w.body || r.Incoming != w.incoming ||
			r.MergedWithPrevious != w.prev || r.MergedWithNext != w.next {
			t.Errorf("row %d = {%s in=%v prev=%v next=%v}, want %+v",
				i, r.Message.Preview(), r.Incoming, r.MergedWithPrevious, r.MergedWithNext, w)
		}
	}

	older, err := f.svc.Window(ctx, chat.ID, "bob", rows[2].Message.CreatedAt, 1)
	if err != nil || len(older) != 1 || older[0].Message.Preview() != "2" {
		t.Errorf("paged window = %+v, %v", older, err)
	}

	if _, err := f.svc.Window(ctx, chat.ID, "mallory", time.Time{}, 10); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member err = %v", err)
	}
}

func TestMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, _ := f.svc.CreateGroup(ctx, "alice", "Team", []string{"bob"}, nil)
	f.nextUpdate(t)

	if _, err := f.svc.AddMember(ctx, group.ID, "bob", "carol"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin add err = %v", err)
	}
	updated, err := f.svc.AddMember(ctx, group.ID, "alice", "carol")
	if err != nil || !updated.HasMember("carol") {
		t.Fatalf("AddMember = %+v, %v", updated, err)
	}
	f.nextUpdate(t)

	if _, err := f.svc.RemoveMember(ctx, group.ID, "bob", "carol"); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-admin remove err = %v", err)
	}
	left, err := f.svc.RemoveMember(ctx, group.ID, "bob", "bob")
	if err != nil || left.HasMember("bob") {
		t.Fatalf("leave = %+v, %v", left, err)
	}
	if u := f.nextUpdate(t); len(u.Audience) != 1 || u.Audience[0] != "bob" {
		t.Errorf("removed member not in audience: %+v", u.Audience)
	}

	stored, err := f.svc.Chat(ctx, group.ID, "alice")
	if err != nil || len(stored.Users) != 2 {
		t.Errorf("stored chat = %+v, %v", stored, err)
	}

	direct, _ := f.svc.OpenDirect(ctx, "alice", "bob")
	if _, err := f.svc.AddMember(ctx, direct.ID, "alice", "carol"); !errors.Is(err, model.ErrInvalidChat) {
		t.Errorf("add to direct err = %v", err)
	}
}

func TestListChatsOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiet, _ := f.svc.CreateGroup(ctx, "alice", "Quiet", nil, nil)
	older, _ := f.svc.OpenDirect(ctx, "alice", "bob")
	newer, _ := f.svc.OpenDirect(ctx, "alice", "carol")
	f.svc.Send(ctx, older.ID, "alice", text("a"))
	f.tick(time.Hour)
	f.svc.Send(ctx, newer.ID, "alice", text("b"))

	// A malformed document in the same listing is skipped.
	f.store.CreateChat(ctx, record.Document{"users": []any{"alice"}, "type": record.Document{"enumCaseKey": "bogus"}})

	chats, err := f.svc.ListChats(ctx, "alice")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	got := make([]string, len(chats))
	for i, c := range chats {
		got[i] = c.ID
	}
	want := []string{newer.ID, older.ID, quiet.ID}
	if len(got) != len(want) {
		t.Fatalf("ListChats = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListChats = %v, want %v", got, want)
			break
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("короткий", 120); got != "короткий" {
		t.Errorf("truncate short = %q", got)
	}
	long := make([]rune, 130)
	for i := range long {
		long[i] = 'я'
	}
	got := []rune(truncate(string(long), 120))
	if len(got) != 120 || string(got[117:]) != "..." {
		t.Errorf("truncate long = %d runes", len(got))
	}
}

func TestSendTruncatesTimeToStorePrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, _ := f.svc.OpenDirect(ctx, "alice", "bob")
	f.clock = f.clock.Add(123456789 * time.Nanosecond)

	m, err := f.svc.Send(ctx, chat.ID, "alice", text("hi"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := f.clock.Truncate(time.Millisecond)
	if !m.CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v, want %v", m.CreatedAt, want)
	}
	snap, err := f.store.GetMessage(ctx, chat.ID, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if at, _ := record.Timestamp(snap.Data); !at.Equal(want) {
		t.Errorf("stored timestamp = %v, want %v", at, want)
	}

	// Курсор страницы равен времени сообщения и не возвращает его повторно.
	older, err := f.svc.Window(ctx, chat.ID, "bob", m.CreatedAt, 10)
	if err != nil || len(older) != 0 {
		t.Errorf("page before the only message = %+v, %v", older, err)
	}
}
