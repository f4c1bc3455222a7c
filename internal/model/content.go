package model

import (
	"encoding/json"
	"fmt"
)

type ContentKind string

const (
	KindText    ContentKind = "text"
	KindImage   ContentKind = "image"
	KindAudio   ContentKind = "audio"
	KindForward ContentKind = "forward"
)

// ContentItem: элемент содержимого сообщения. Набор вариантов закрыт:
// Text, Image, Audio и Forward.
type ContentItem interface {
	Kind() ContentKind
	isContentItem()
}

type Text struct {
	Body string `json:"text"`
}

type ImageSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Image struct {
	Path string    `json:"path"`
	Size ImageSize `json:"size"`
}

type Audio struct {
	Path string `json:"path"`
}

// Forward помечает сообщение как пересланное UserID. Допустим только первым элементом.
type Forward struct {
	UserID string `json:"user_id"`
}

func (Text) Kind() ContentKind    { return KindText }
func (Image) Kind() ContentKind   { return KindImage }
func (Audio) Kind() ContentKind   { return KindAudio }
func (Forward) Kind() ContentKind { return KindForward }

func (Text) isContentItem()    {}
func (Image) isContentItem()   {}
func (Audio) isContentItem()   {}
func (Forward) isContentItem() {}

// Content: упорядоченное содержимое сообщения.
type Content []ContentItem

// contentJSON: вид элемента в API, {"kind": "...", ...поля варианта}.
type contentJSON struct {
	Kind   ContentKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Path   string      `json:"path,omitempty"`
	Size   *ImageSize  `json:"size,omitempty"`
	UserID string      `json:"user_id,omitempty"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	out := make([]contentJSON, 0, len(c))
	for _, item := range c {
		switch v := item.(type) {
		case Text:
			out = append(out, contentJSON{Kind: KindText, Text: v.Body})
		case Image:
			size := v.Size
			out = append(out, contentJSON{Kind: KindImage, Path: v.Path, Size: &size})
		case Audio:
			out = append(out, contentJSON{Kind: KindAudio, Path: v.Path})
		case Forward:
			out = append(out, contentJSON{Kind: KindForward, UserID: v.UserID})
		default:
			return nil, fmt.Errorf("content: unsupported item %T", item)
		}
	}
	return json.Marshal(out)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var raw []contentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	items := make(Content, 0, len(raw))
	for i, r := range raw {
		switch r.Kind {
		case KindText:
			items = append(items, Text{Body: r.Text})
		case KindImage:
			img := Image{Path: r.Path}
			if r.Size != nil {
				img.Size = *r.Size
			}
			items = append(items, img)
		case KindAudio:
			items = append(items, Audio{Path: r.Path})
		case KindForward:
			items = append(items, Forward{UserID: r.UserID})
		default:
			return fmt.Errorf("content[%d]: unknown kind %q", i, r.Kind)
		}
	}
	*c = items
	return nil
}

// ForwardContent возвращает содержимое для сохранения при пересылке items от forwarderID.
// Ведущий Forward заменяется: в атрибуции всегда только последний переславший.
// items не изменяется.
func ForwardContent(items []ContentItem, forwarderID string) []ContentItem {
	rest := items
	if len(rest) > 0 && rest[0].Kind() == KindForward {
		rest = rest[1:]
	}
	out := make([]ContentItem, 0, len(rest)+1)
	out = append(out, Forward{UserID: forwarderID})
	return append(out, rest...)
}
