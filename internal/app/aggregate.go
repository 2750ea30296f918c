package app

import (
	"huddle/api/internal/store"
)

// ReactionView is the per-emoji aggregate exposed to clients. The raw
// per-row member id never appears here; only the deduplicated list does.
type ReactionView struct {
	Value     string   `json:"value"`
	Count     int      `json:"count"`
	MemberIDs []string `json:"memberIds"`
}

// AggregateReactions groups raw reaction rows by emoji value. Count is the
// number of rows in the group; MemberIDs is deduplicated in first-seen order.
// No rows yields an empty, non-nil slice.
func AggregateReactions(rows []store.Reaction) []ReactionView {
	groups := make(map[string]int, len(rows))
	seen := make(map[string]map[string]struct{}, len(rows))
	views := make([]ReactionView, 0, len(rows))

	for _, row := range rows {
		idx, ok := groups[row.Value]
		if !ok {
			idx = len(views)
			groups[row.Value] = idx
			seen[row.Value] = make(map[string]struct{})
			views = append(views, ReactionView{Value: row.Value, MemberIDs: []string{}})
		}
		views[idx].Count++
		if _, dup := seen[row.Value][row.MemberID]; !dup {
			seen[row.Value][row.MemberID] = struct{}{}
			views[idx].MemberIDs = append(views[idx].MemberIDs, row.MemberID)
		}
	}
	return views
}
