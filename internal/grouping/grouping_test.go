package grouping

import (
	"testing"
	"time"

	"github.com/smalltalk/internal/model"
)

func msgAt(author string, sec float64) model.Message {
	base := time.Unix(1_700_000_000, 0)
	return model.Message{
		AuthorID:  author,
		CreatedAt: base.Add(time.Duration(sec * float64(time.Second))),
		Content:   model.Content{model.Text{Body: "x"}},
	}
}

func atUnix(author string, sec int64) model.Message {
	return model.Message{AuthorID: author, CreatedAt: time.Unix(sec, 0), Content: model.Content{model.Text{Body: "x"}}}
}

func TestShouldMerge(t *testing.T) {
	tests := []struct {
		name        string
		left, right model.Message
		want        bool
	}{
		{"same author close", msgAt("u1", 100), msgAt("u1", 150), true},
		{"different author", msgAt("u1", 100), msgAt("u2", 105), false},
		{"exactly threshold", msgAt("u1", 0), msgAt("u1", 300), false},
		{"just under threshold", msgAt("u1", 0), msgAt("u1", 299.999), true},
		{"equal timestamps", msgAt("u1", 42), msgAt("u1", 42), true},
		{"reversed order", msgAt("u1", 150), msgAt("u1", 100), true},
		{"reversed beyond threshold", msgAt("u1", 400), msgAt("u1", 0), false},
		{"different author same instant", msgAt("u1", 0), msgAt("u2", 0), false},
		{"centuries apart", atUnix("u1", 1<<40), atUnix("u1", 0), false},
		{"centuries apart reversed", atUnix("u1", 0), atUnix("u1", 1<<40), false},
		{"before epoch and far future", atUnix("u1", -(1 << 40)), atUnix("u1", 1<<40), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldMerge(tt.left, tt.right); got != tt.want {
				t.Errorf("ShouldMerge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChrome(t *testing.T) {
	window := []model.Message{
		msgAt("u1", 0),
		msgAt("u1", 60),
		msgAt("u2", 90),
		msgAt("u2", 500),
		msgAt("u2", 510),
	}
	rows := Chrome(window, "u1")
	if len(rows) != len(window) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(window))
	}

	wantPrev := []bool{false, true, false, false, true}
	wantNext := []bool{true, false, false, true, false}
	wantIncoming := []bool{false, false, true, true, true}
	for i, r := range rows {
		if r.MergedWithPrevious != wantPrev[i] {
			t.Errorf("row %d MergedWithPrevious = %v, want %v", i, r.MergedWithPrevious, wantPrev[i])
		}
		if r.MergedWithNext != wantNext[i] {
			t.Errorf("row %d MergedWithNext = %v, want %v", i, r.MergedWithNext, wantNext[i])
		}
		if r.Incoming != wantIncoming[i] {
			t.Errorf("row %d Incoming = %v, want %v", i, r.Incoming, wantIncoming[i])
		}
	}
}

func TestChromeEmpty(t *testing.T) {
	if rows := Chrome(nil, "u1"); len(rows) != 0 {
		t.Errorf("Chrome(nil) = %v, want empty", rows)
	}
}
