package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "schedbot/pkg/logx"
)

func TestSQLiteRoundTripAndPrune(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "history.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	recs := []Record{
		rec("msg_old", base.Add(-48*time.Hour), OutcomeFailed),
		rec("msg_a", base, OutcomeSent),
		rec("msg_b", base.Add(time.Minute), OutcomeSkipped),
	}
	recs[0].Detail = "channel not found"
	for _, r := range recs {
		if err := st.Append(ctx, r); err != nil {
			t.Fatalf("Append(%s): %v", r.DeliveryID, err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].DeliveryID != "msg_b" || got[1].DeliveryID != "msg_a" {
		t.Fatalf("Recent = %+v, want newest first", got)
	}
	if got[0].Outcome != OutcomeSkipped {
		t.Fatalf("Outcome = %q", got[0].Outcome)
	}
	if !got[1].ConcludedAt.Equal(base) {
		t.Fatalf("ConcludedAt = %v, want %v", got[1].ConcludedAt, base)
	}

	dropped, err := st.Prune(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("Prune dropped = %d, want 1", dropped)
	}
	got, err = st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent after prune: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records after prune = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.DeliveryID == "msg_old" {
			t.Fatal("pruned record still present")
		}
	}
}
