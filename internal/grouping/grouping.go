// Package grouping решает, какие соседние сообщения показываются одной группой
// (без повтора аватара, имени автора и времени).
package grouping

import (
	"time"

	"github.com/smalltalk/internal/model"
)

// MergeThreshold: сообщения одного автора группируются, если разница во времени строго меньше.
const MergeThreshold = 5 * time.Minute

// ShouldMerge сообщает, показывается ли right вместе с left. Порядок не проверяется.
// Sub не используется: на далёких датах он насыщается, и модуль разницы переполняется.
func ShouldMerge(left, right model.Message) bool {
	if left.AuthorID != right.AuthorID {
		return false
	}
	return left.CreatedAt.Add(MergeThreshold).After(right.CreatedAt) &&
		right.CreatedAt.Add(MergeThreshold).After(left.CreatedAt)
}

// Row: решение о группировке для одного сообщения окна.
type Row struct {
	Message            model.Message `json:"message"`
	Incoming           bool          `json:"incoming"`
	MergedWithPrevious bool          `json:"merged_with_previous"`
	MergedWithNext     bool          `json:"merged_with_next"`
}

// Chrome применяет ShouldMerge к каждой паре соседей; window уже упорядочен по времени.
func Chrome(window []model.Message, viewerID string) []Row {
	rows := make([]Row, len(window))
	for i, m := range window {
		rows[i] = Row{Message: m, Incoming: m.IsIncoming(viewerID)}
		if i > 0 && ShouldMerge(window[i-1], m) {
			rows[i].MergedWithPrevious = true
			rows[i-1].MergedWithNext = true
		}
	}
	return rows
}
