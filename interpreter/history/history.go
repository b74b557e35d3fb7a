// Package history records and restores the last active descendants of
// compound/parallel states that declare history children, per W3C SCXML
// 3.10: separate shallow/deep maps, keyed by document.StateID, each
// holding a full recorded descendant set so parallel regions are
// representable.
package history

import (
	"sync"

	"github.com/comalice/scxml-core/document"
)

// Store tracks history recordings for one interpreter session. It is
// session-private (§5 Shared resources) and safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	model   document.Model
	records map[document.StateID]map[document.StateID]bool // historyID -> recorded active set
}

func New(model document.Model) *Store {
	return &Store{
		model:   model,
		records: make(map[document.StateID]map[document.StateID]bool),
	}
}

// Record captures, for every history child of stateID, the subset of the
// active configuration it should remember (§4.2). Must be called before
// onexit of stateID runs (I5); the caller (the microstep executor)
// enforces that ordering.
func (s *Store) Record(stateID document.StateID, active map[document.StateID]bool) {
	node, ok := s.model.GetState(stateID)
	if !ok {
		return
	}
	for _, childID := range node.Children {
		child, ok := s.model.GetState(childID)
		if !ok || (child.Kind != document.HistoryShallow && child.Kind != document.HistoryDeep) {
			continue
		}
		var captured map[document.StateID]bool
		if child.Kind == document.HistoryShallow {
			captured = s.shallowCapture(stateID, active)
		} else {
			captured = s.deepCapture(stateID, active)
		}
		s.mu.Lock()
		s.records[childID] = captured
		s.mu.Unlock()
	}
}

// shallowCapture returns the direct children of stateID that are active.
func (s *Store) shallowCapture(stateID document.StateID, active map[document.StateID]bool) map[document.StateID]bool {
	node, ok := s.model.GetState(stateID)
	if !ok {
		return nil
	}
	out := make(map[document.StateID]bool)
	for _, childID := range node.Children {
		child, ok := s.model.GetState(childID)
		if !ok || child.Kind == document.HistoryShallow || child.Kind == document.HistoryDeep {
			continue
		}
		if active[childID] {
			out[childID] = true
		}
	}
	return out
}

// deepCapture returns every atomic descendant of stateID that is active.
func (s *Store) deepCapture(stateID document.StateID, active map[document.StateID]bool) map[document.StateID]bool {
	out := make(map[document.StateID]bool)
	for id := range active {
		if id == stateID {
			continue
		}
		if s.isDescendant(id, stateID) {
			node, ok := s.model.GetState(id)
			if ok && (node.Kind == document.Atomic || node.Kind == document.Final) {
				out[id] = true
			}
		}
	}
	return out
}

func (s *Store) isDescendant(id, ancestor document.StateID) bool {
	for {
		node, ok := s.model.GetState(id)
		if !ok || node.Parent == "" {
			return false
		}
		if node.Parent == ancestor {
			return true
		}
		id = node.Parent
	}
}

// Restore returns the recorded targets for historyID if any, else the
// history node's default transition targets. The second return value
// reports whether a recording existed, so callers can decide whether the
// history node's default-transition executable content should run
// (W3C 3.10: only when no record exists).
func (s *Store) Restore(historyID document.StateID) ([]document.StateID, bool) {
	s.mu.RLock()
	recorded, ok := s.records[historyID]
	s.mu.RUnlock()
	if ok && len(recorded) > 0 {
		out := make([]document.StateID, 0, len(recorded))
		for id := range recorded {
			out = append(out, id)
		}
		return out, true
	}
	node, exists := s.model.GetState(historyID)
	if !exists {
		return nil, false
	}
	return node.HistoryDefault, false
}

// InitialOrHistoryChild implements hierarchy.HistoryResolver: if any
// history child of compound has a recording, returns that recording's
// sole target; otherwise returns the static initial child.
func (s *Store) InitialOrHistoryChild(compound document.StateID) (document.StateID, bool) {
	node, ok := s.model.GetState(compound)
	if !ok {
		return "", false
	}
	for _, childID := range node.Children {
		child, ok := s.model.GetState(childID)
		if !ok || (child.Kind != document.HistoryShallow && child.Kind != document.HistoryDeep) {
			continue
		}
		s.mu.RLock()
		recorded, has := s.records[childID]
		s.mu.RUnlock()
		if has && len(recorded) > 0 {
			for id := range recorded {
				return id, true
			}
		}
	}
	if len(node.Initial) > 0 {
		return node.Initial[0], true
	}
	return "", false
}

// Clear removes any recorded history for historyID (explicit reset, §3
// Lifecycle).
func (s *Store) Clear(historyID document.StateID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, historyID)
}

// ClearAll removes every recorded history entry for this session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[document.StateID]map[document.StateID]bool)
}
