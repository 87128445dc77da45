package entity

import (
	"testing"

	"github.com/aionmeter/aionmeter/internal/gamedata"
)

func TestResolvePlayerCreatesOnce(t *testing.T) {
	tr := NewTracker()
	glad := &gamedata.Class{ID: 11, Name: "Gladiator"}

	p := tr.ResolvePlayer(567, glad)
	if p.Name != "Entity_567" || p.Class != glad {
		t.Fatalf("new player = %+v", p)
	}

	again := tr.ResolvePlayer(567, &gamedata.Class{ID: 12})
	if again.Class.ID != 11 {
		t.Fatalf("existing player changed class to %d", again.Class.ID)
	}
	if tr.Counts().Players != 1 {
		t.Fatalf("players = %d, want 1", tr.Counts().Players)
	}
}

func TestRenameKeepsClass(t *testing.T) {
	tr := NewTracker()
	glad := &gamedata.Class{ID: 11, Name: "Gladiator"}
	tr.ResolvePlayer(567, glad)

	renamed := tr.Rename(567, "Hello")
	if renamed.Name != "Hello" || renamed.Class != glad {
		t.Fatalf("renamed = %+v", renamed)
	}

	fresh := tr.Rename(890, "World")
	if fresh.Class != nil || fresh.Name != "World" {
		t.Fatalf("renamed unknown player = %+v", fresh)
	}
	if p, ok := tr.Player(890); !ok || p.Name != "World" {
		t.Fatalf("rename did not create player")
	}
}

func TestPlayersAndTargetsAreSeparate(t *testing.T) {
	tr := NewTracker()
	tr.ResolvePlayer(10, nil)
	tr.ResolveTarget(10)

	if c := tr.Counts(); c.Players != 1 || c.Targets != 1 {
		t.Fatalf("counts = %+v", c)
	}
	tr.Rename(10, "Named")
	if tgt, _ := tr.Target(10); tgt.Name != "Entity_10" {
		t.Fatalf("rename leaked into targets: %+v", tgt)
	}
}

func TestFirstTargetAndOrdering(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.FirstTarget(); ok {
		t.Fatalf("empty tracker returned a target")
	}

	tr.ResolveTarget(300)
	tr.ResolveTarget(100)
	tr.ResolveTarget(200)

	first, ok := tr.FirstTarget()
	if !ok || first.ID != 300 {
		t.Fatalf("first target = %+v, want 300", first)
	}

	targets := tr.Targets()
	if len(targets) != 3 || targets[0].ID != 100 || targets[2].ID != 300 {
		t.Fatalf("targets not sorted by id: %+v", targets)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.ResolvePlayer(1, nil)
	tr.ResolveTarget(2)
	tr.Clear()
	if c := tr.Counts(); c.Players != 0 || c.Targets != 0 {
		t.Fatalf("counts after clear = %+v", c)
	}
}
