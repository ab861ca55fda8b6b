package domain

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := fixture(t)
	snap := s.Snapshot()

	rebuilt, err := BuildState(snap)
	if err != nil {
		t.Fatalf("build state: %v", err)
	}
	if got := rebuilt.Snapshot(); !reflect.DeepEqual(got, snap) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}
}

func TestSnapshotSetOrderingIsIrrelevant(t *testing.T) {
	s := fixture(t)
	snap := s.Snapshot()

	// Scramble set-valued fields; the rebuilt snapshot must normalize back.
	for i := range snap.Cells {
		ids := snap.Cells[i].LooseOrderIDs
		for l, r := 0, len(ids)-1; l < r; l, r = l+1, r-1 {
			ids[l], ids[r] = ids[r], ids[l]
		}
	}
	rebuilt, err := BuildState(snap)
	if err != nil {
		t.Fatalf("build state: %v", err)
	}
	if !reflect.DeepEqual(rebuilt.Snapshot(), s.Snapshot()) {
		t.Fatal("set ordering leaked into snapshot equality")
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := fixture(t).Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rebuilt, err := BuildState(decoded)
	if err != nil {
		t.Fatalf("build state: %v", err)
	}
	if !reflect.DeepEqual(rebuilt.Snapshot(), snap) {
		t.Fatal("JSON round trip changed the board")
	}
}

func TestBuildStateRejectsDoublePlacement(t *testing.T) {
	s := fixture(t)
	snap := s.Snapshot()
	for i := range snap.Cells {
		// The inbound cell shares so-a's date, so only exclusivity trips.
		if snap.Cells[i].Resource == ResourceInbound {
			snap.Cells[i].LooseOrderIDs = append(snap.Cells[i].LooseOrderIDs, "so-a")
		}
	}
	if _, err := BuildState(snap); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestBuildStateRejectsScheduledOrderWithoutPlacement(t *testing.T) {
	snap := fixture(t).Snapshot()
	for i := range snap.Cells {
		snap.Cells[i].LooseOrderIDs = remove(snap.Cells[i].LooseOrderIDs, "so-a")
	}
	if _, err := BuildState(snap); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestBuildStateRejectsUnplacedRun(t *testing.T) {
	snap := fixture(t).Snapshot()
	snap.Runs = append(snap.Runs, Run{ID: "orphan", Name: "nowhere", OrderIDs: []string{}})
	if _, err := BuildState(snap); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestBuildStateRejectsDateMismatch(t *testing.T) {
	snap := fixture(t).Snapshot()
	for i := range snap.Orders {
		if snap.Orders[i].ID == "so-a" {
			d := mustDate(t, "2025-02-01")
			snap.Orders[i].Date = &d
		}
	}
	if _, err := BuildState(snap); !errors.Is(err, ErrInvalidSnapshot) {
		t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := fixture(t)
	c := s.Clone()

	run := c.Runs["run-1"]
	run.OrderIDs[0] = "tampered"
	c.Runs["run-1"] = run
	d := mustDate(t, "1999-01-01")
	o := c.Orders["so-a"]
	*o.Date = d

	if s.Runs["run-1"].OrderIDs[0] == "tampered" {
		t.Fatal("run sequence is shared between clones")
	}
	if *s.Orders["so-a"].Date == d {
		t.Fatal("order date is shared between clones")
	}
}
