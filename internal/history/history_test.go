package history

import (
	"context"
	"fmt"
	"testing"
)

func TestMemory_RecentNewestFirst(t *testing.T) {
	t.Parallel()

	m := NewMemory(3)
	ctx := context.Background()
	for i := range 5 {
		_ = m.Record(ctx, Record{TurnID: fmt.Sprint(i)})
	}
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{limit: 0, want: []string{"4", "3", "2"}},
		{limit: 2, want: []string{"4", "3"}},
		{limit: 10, want: []string{"4", "3", "2"}},
	}
	for _, tt := range tests {
		got, _ := m.Recent(ctx, tt.limit)
		if len(got) != len(tt.want) {
			t.Fatalf("limit %d: got %d records, want %d", tt.limit, len(got), len(tt.want))
		}
		for i := range got {
			if got[i].TurnID != tt.want[i] {
				t.Errorf("limit %d: record %d = %s, want %s", tt.limit, i, got[i].TurnID, tt.want[i])
			}
		}
	}
}

func TestMemory_PartiallyFilled(t *testing.T) {
	t.Parallel()

	m := NewMemory(0)
	_ = m.Record(context.Background(), Record{TurnID: "a"})
	got, _ := m.Recent(context.Background(), 0)
	if len(got) != 1 || got[0].TurnID != "a" {
		t.Errorf("Recent = %+v", got)
	}
	if len(m.ring) != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", len(m.ring), DefaultCapacity)
	}
}

func TestMemory_Search(t *testing.T) {
	t.Parallel()

	m := NewMemory(10)
	ctx := context.Background()
	_ = m.Record(ctx, Record{TurnID: "1", UserText: "What time is it", ReplyText: "Noon."})
	_ = m.Record(ctx, Record{TurnID: "2", UserText: "tell me a joke", ReplyText: "The Chum Bucket."})
	_ = m.Record(ctx, Record{TurnID: "3", UserText: "what TIME now", ReplyText: "Still noon."})

	got, _ := m.Search(ctx, "time", 0)
	if len(got) != 2 || got[0].TurnID != "3" || got[1].TurnID != "1" {
		t.Errorf("Search(time) = %+v", got)
	}
	got, _ = m.Search(ctx, "chum", 0)
	if len(got) != 1 || got[0].TurnID != "2" {
		t.Errorf("Search(chum) = %+v", got)
	}
	got, _ = m.Search(ctx, "noon", 1)
	if len(got) != 1 || got[0].TurnID != "3" {
		t.Errorf("Search(noon, 1) = %+v", got)
	}
}
