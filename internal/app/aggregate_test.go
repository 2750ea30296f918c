package app

import (
	"reflect"
	"testing"

	"huddle/api/internal/store"
)

func TestAggregateReactionsGroupsByValue(t *testing.T) {
	rows := []store.Reaction{
		{ID: "rct_1", MessageID: "msg_1", MemberID: "mem_a", Value: "👍"},
		{ID: "rct_2", MessageID: "msg_1", MemberID: "mem_b", Value: "👍"},
		{ID: "rct_3", MessageID: "msg_1", MemberID: "mem_a", Value: "🎉"},
	}

	views := AggregateReactions(rows)
	if len(views) != 2 {
		t.Fatalf("got %d groups, want 2", len(views))
	}

	thumbs := views[0]
	if thumbs.Value != "👍" || thumbs.Count != 2 {
		t.Fatalf("first group = %+v, want 👍 with count 2", thumbs)
	}
	if !reflect.DeepEqual(thumbs.MemberIDs, []string{"mem_a", "mem_b"}) {
		t.Fatalf("👍 members = %v, want [mem_a mem_b]", thumbs.MemberIDs)
	}

	party := views[1]
	if party.Value != "🎉" || party.Count != 1 {
		t.Fatalf("second group = %+v, want 🎉 with count 1", party)
	}
	if !reflect.DeepEqual(party.MemberIDs, []string{"mem_a"}) {
		t.Fatalf("🎉 members = %v, want [mem_a]", party.MemberIDs)
	}
}

func TestAggregateReactionsDeduplicatesMembersButCountsRows(t *testing.T) {
	rows := []store.Reaction{
		{ID: "rct_1", MessageID: "msg_1", MemberID: "mem_a", Value: "👍"},
		{ID: "rct_2", MessageID: "msg_1", MemberID: "mem_a", Value: "👍"},
	}

	views := AggregateReactions(rows)
	if len(views) != 1 {
		t.Fatalf("got %d groups, want 1", len(views))
	}
	if views[0].Count != 2 {
		t.Fatalf("count = %d, want 2 raw rows", views[0].Count)
	}
	if len(views[0].MemberIDs) != 1 {
		t.Fatalf("members = %v, want deduplicated to one", views[0].MemberIDs)
	}
}

func TestAggregateReactionsEmptyInput(t *testing.T) {
	views := AggregateReactions(nil)
	if views == nil {
		t.Fatal("got nil, want empty slice")
	}
	if len(views) != 0 {
		t.Fatalf("got %d groups, want 0", len(views))
	}
}
