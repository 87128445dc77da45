// Package entity tracks the players and targets seen in combat traffic.
package entity

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aionmeter/aionmeter/internal/gamedata"
)

// Entity is a player or target known to the tracker.
type Entity struct {
	ID      int             `json:"id"`
	Name    string          `json:"name"`
	Icon    string          `json:"icon,omitempty"`
	Class   *gamedata.Class `json:"class,omitempty"`
	created uint64
}

// DefaultName is the placeholder name given to entities before a nickname is seen.
func DefaultName(id int) string {
	return fmt.Sprintf("Entity_%d", id)
}

// Counts reports tracker sizes.
type Counts struct {
	Players int `json:"players"`
	Targets int `json:"targets"`
}

// Tracker keeps players and targets in separate namespaces.
type Tracker struct {
	mu      sync.Mutex
	players map[int]*Entity
	targets map[int]*Entity
	seq     uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		players: make(map[int]*Entity),
		targets: make(map[int]*Entity),
	}
}

// ResolvePlayer returns the player with id, creating it with class when absent.
// An existing player keeps the class it was created with.
func (t *Tracker) ResolvePlayer(id int, class *gamedata.Class) Entity {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.players[id]; ok {
		if e.Class == nil && class != nil {
			e.Class = class
		}
		return *e
	}

	e := t.newEntity(id)
	e.Class = class
	t.players[id] = e
	return *e
}

// ResolveTarget returns the target with id, creating it when absent.
func (t *Tracker) ResolveTarget(id int) Entity {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.targets[id]; ok {
		return *e
	}
	e := t.newEntity(id)
	t.targets[id] = e
	return *e
}

// Rename sets the display name of a player, creating the player if needed.
func (t *Tracker) Rename(id int, name string) Entity {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.players[id]
	if !ok {
		e = t.newEntity(id)
		t.players[id] = e
	}
	e.Name = name
	return *e
}

func (t *Tracker) newEntity(id int) *Entity {
	t.seq++
	return &Entity{ID: id, Name: DefaultName(id), created: t.seq}
}

// Player returns a copy of the player with id.
func (t *Tracker) Player(id int) (Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.players[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Target returns a copy of the target with id.
func (t *Tracker) Target(id int) (Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.targets[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Players returns all players sorted by id.
func (t *Tracker) Players() []Entity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.players)
}

// Targets returns all targets sorted by id.
func (t *Tracker) Targets() []Entity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.targets)
}

// FirstTarget returns the earliest created target.
func (t *Tracker) FirstTarget() (Entity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var first *Entity
	for _, e := range t.targets {
		if first == nil || e.created < first.created {
			first = e
		}
	}
	if first == nil {
		return Entity{}, false
	}
	return *first, true
}

// Counts returns the number of tracked players and targets.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counts{Players: len(t.players), Targets: len(t.targets)}
}

// Clear forgets all entities.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.players = make(map[int]*Entity)
	t.targets = make(map[int]*Entity)
}

func snapshot(m map[int]*Entity) []Entity {
	out := make([]Entity, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
