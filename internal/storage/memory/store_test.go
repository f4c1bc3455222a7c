package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smalltalk/internal/record"
	"github.com/smalltalk/internal/storage"
)

func msgDoc(author string, at time.Time) record.Document {
	return record.Document{
		"kind":      []any{record.Document{"enumCaseKey": "text", "text": author}},
		"userId":    author,
		"timestamp": at,
	}
}

func TestStoreMessagesPagination(t *testing.T) {
	ctx := context.Background()
	s := New()
	chatID, err := s.CreateChat(ctx, record.Document{"users": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	base := time.Unix(1_000, 0)
	ids := make([]string, 5)
	// Insert out of order; the store keeps time order.
	for _, i := range []int{2, 0, 4, 1, 3} {
		id, err := s.AddMessage(ctx, chatID, msgDoc("a", base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
		ids[i] = id
	}

	page, err := s.ListMessages(ctx, chatID, time.Time{}, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("first page = %v", snapshotIDs(page))
	}

	page, err = s.ListMessages(ctx, chatID, base.Add(3*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page) != 3 || page[0].ID != ids[2] || page[2].ID != ids[0] {
		t.Fatalf("second page = %v", snapshotIDs(page))
	}
	if page[0].Data[record.FieldChatID] != chatID {
		t.Errorf("chatId not stamped: %v", page[0].Data)
	}
}

func TestStoreAddMessageUpdatesLastMessage(t *testing.T) {
	ctx := context.Background()
	s := New()
	chatID, _ := s.CreateChat(ctx, record.Document{"users": []any{"a"}})
	id, err := s.AddMessage(ctx, chatID, msgDoc("a", time.Unix(5, 0)))
	if err != nil {
		t.Fatalf("AddMessage: %v", err)
	}

	snap, err := s.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	chat, err := record.DecodeChat(snap.Data, snap.ID)
	if err != nil {
		t.Fatalf("DecodeChat: %v", err)
	}
	if chat.LastMessage == nil || chat.LastMessage.ID != id {
		t.Errorf("LastMessage = %+v, want id %s", chat.LastMessage, id)
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.GetChat(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetChat = %v", err)
	}
	if _, err := s.AddMessage(ctx, "nope", msgDoc("a", time.Unix(1, 0))); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AddMessage = %v", err)
	}
	if err := s.UpdateChat(ctx, "nope", record.Document{"users": []any{"a"}}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateChat = %v", err)
	}
}

func TestStoreListChatsByMember(t *testing.T) {
	ctx := context.Background()
	s := New()
	ab, _ := s.CreateChat(ctx, record.Document{"users": []any{"a", "b"}})
	_, _ = s.CreateChat(ctx, record.Document{"users": []any{"c"}})

	got, err := s.ListChats(ctx, "b")
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(got) != 1 || got[0].ID != ab {
		t.Errorf("ListChats(b) = %v", snapshotIDs(got))
	}

	// Returned documents are copies.
	got[0].Data["users"] = []any{"z"}
	again, _ := s.ListChats(ctx, "b")
	if len(again) != 1 {
		t.Errorf("store mutated through snapshot")
	}
}

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, _ := b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)
	u := storage.Update{Kind: storage.UpdateMessage, ChatID: "c1", DocID: "m1"}
	if err := b.Publish(ctx, u); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for i, ch := range []<-chan storage.Update{ch1, ch2} {
		select {
		case got := <-ch:
			if got.DocID != "m1" {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}

	cancel()
	select {
	case _, ok := <-ch1:
		if ok {
			t.Error("channel still open after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func snapshotIDs(snaps []record.Snapshot) []string {
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		ids[i] = s.ID
	}
	return ids
}
