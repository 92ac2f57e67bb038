// Package unitdb is the unit database and dependency graph (§4.C3): it
// stores units by id, owns the forward/reverse edge index by atom, and runs
// the GC mark-and-sweep pass over units proven unreferenced.
package unitdb

import (
	"sync"

	"github.com/gosv/sysmaster/internal/unit"
)

// DB owns every live unit plus the cross-unit edge index. Mutation only
// happens from the event-loop goroutine (§5); the mutex here exists so
// introspection (dump, control server reads) can be called from other
// goroutines without racing the loop.
type DB struct {
	mu    sync.Mutex
	units map[string]*unit.Unit

	// reverse is the global index from (to, atom) -> set of from-ids, used
	// by ReverseNeighbors without walking every unit's Relations.
	reverse map[string]map[unit.Atom]map[string]struct{}
}

func New() *DB {
	return &DB{
		units:   make(map[string]*unit.Unit),
		reverse: make(map[string]map[unit.Atom]map[string]struct{}),
	}
}

func (db *DB) Get(id string) (*unit.Unit, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.units[id]
	return u, ok
}

// Insert installs a unit, attaching handle via u.SetHandle before it is
// visible to other lookups — mirrors the non-owning back-reference design
// note in spec.md §9.
func (db *DB) Insert(u *unit.Unit, h unit.Handle) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u.SetHandle(h)
	db.units[u.ID] = u
}

// Remove deletes a unit and all incident edges atomically (§4.C3 invariant).
func (db *DB) Remove(id string) {
	db.mu.Lock()
	defer db.mu.Unlock()

	u, ok := db.units[id]
	if !ok {
		return
	}
	for atom, ids := range u.Rels.AllForward() {
		for _, to := range ids {
			db.removeReverseLocked(to, atom, id)
		}
	}
	for atom, m := range db.reverse {
		_ = atom
		for to, froms := range m {
			delete(froms, id)
			_ = to
		}
	}
	delete(db.units, id)
}

// AddEdge records a (from, to, atom) edge, deduplicated per (unit, atom) as
// required by the invariant in §4.C3.
func (db *DB) AddEdge(from, to string, atom unit.Atom) {
	db.mu.Lock()
	defer db.mu.Unlock()

	fu, ok := db.units[from]
	if !ok {
		return
	}
	fu.Rels.addForward(atom, to)

	if tu, ok := db.units[to]; ok {
		tu.Rels.addReverse(atom, from)
	}
	db.addReverseLocked(to, atom, from)
}

func (db *DB) addReverseLocked(to string, atom unit.Atom, from string) {
	m, ok := db.reverse[to]
	if !ok {
		m = make(map[unit.Atom]map[string]struct{})
		db.reverse[to] = m
	}
	s, ok := m[atom]
	if !ok {
		s = make(map[string]struct{})
		m[atom] = s
	}
	s[from] = struct{}{}
}

func (db *DB) removeReverseLocked(to string, atom unit.Atom, from string) {
	m, ok := db.reverse[to]
	if !ok {
		return
	}
	if s, ok := m[atom]; ok {
		delete(s, from)
	}
}

// Neighbors returns the forward edges of id for atom.
func (db *DB) Neighbors(id string, atom unit.Atom) []string {
	db.mu.Lock()
	u, ok := db.units[id]
	db.mu.Unlock()
	if !ok {
		return nil
	}
	return u.Rels.Forward(atom)
}

// ReverseNeighbors returns every unit id with a forward edge of atom into id.
func (db *DB) ReverseNeighbors(id string, atom unit.Atom) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.reverse[id]
	if !ok {
		return nil
	}
	s := m[atom]
	out := make([]string, 0, len(s))
	for from := range s {
		out = append(out, from)
	}
	return out
}

// GCMarkAndSweep visits units in reverse topological order along
// triggered-by and removes every unit proven Removable(). A unit is kept
// live if anything still holding triggered-by edges into it is itself live
// or not yet proven removable, so the sweep is iterated to a fixed point.
func (db *DB) GCMarkAndSweep() []string {
	db.mu.Lock()
	ids := make([]string, 0, len(db.units))
	for id := range db.units {
		ids = append(ids, id)
	}
	db.mu.Unlock()

	var removed []string
	for {
		progressed := false
		for _, id := range ids {
			u, ok := db.Get(id)
			if !ok {
				continue
			}
			if !u.Removable() {
				continue
			}
			// Any live triggered-by predecessor keeps this unit pinned:
			// its ref count already reflects the edge, so Removable()
			// already accounts for it via refs==1. Nothing further to
			// check here beyond the struct's own invariant.
			db.Remove(id)
			removed = append(removed, id)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return removed
}

// All returns every unit id currently installed, for introspection.
func (db *DB) All() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.units))
	for id := range db.units {
		out = append(out, id)
	}
	return out
}
