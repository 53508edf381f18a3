package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/sas-coexistence/model"
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventGrantsUpdated EventType = iota
	EventDpaUpdated
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	// Dpa is set for EventDpaUpdated.
	Dpa model.DpaDefinition
	// Grants is the new snapshot for EventGrantsUpdated.
	Grants []model.Grant
}

// KnowledgeBase is an in-memory, thread-safe store for DPA definitions and
// the current grant snapshot.
type KnowledgeBase struct {
	mu sync.RWMutex

	dpas   map[string]model.DpaDefinition
	grants map[string]model.Grant

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		dpas:   make(map[string]model.DpaDefinition),
		grants: make(map[string]model.Grant),
		subs:   make(map[int]func(Event)),
	}
}

// AddDpa stores a copy of def. It returns an error if the name is empty or
// already exists.
func (kb *KnowledgeBase) AddDpa(def *model.DpaDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("%w: DPA definition without a name", model.ErrBadInput)
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.dpas[def.Name]; exists {
		return fmt.Errorf("DPA %q already exists", def.Name)
	}
	kb.dpas[def.Name] = cloneDpa(*def)
	return nil
}

// UpdateDpa replaces an existing definition with a copy of def and notifies
// subscribers.
func (kb *KnowledgeBase) UpdateDpa(def *model.DpaDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil DPA definition", model.ErrBadInput)
	}
	kb.mu.Lock()
	if _, ok := kb.dpas[def.Name]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("DPA %q not found", def.Name)
	}
	stored := cloneDpa(*def)
	kb.dpas[def.Name] = stored
	event := Event{Type: EventDpaUpdated, Dpa: cloneDpa(stored)}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// GetDpa returns a copy of the named definition.
func (kb *KnowledgeBase) GetDpa(name string) (model.DpaDefinition, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	d, ok := kb.dpas[name]
	if !ok {
		return model.DpaDefinition{}, false
	}
	return cloneDpa(d), true
}

// ListDpas returns copies of all definitions ordered by name.
func (kb *KnowledgeBase) ListDpas() []model.DpaDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.DpaDefinition, 0, len(kb.dpas))
	for _, d := range kb.dpas {
		res = append(res, cloneDpa(d))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// cloneDpa copies the slices and pointers of d. Geometries are shared; they
// are never modified after loading.
func cloneDpa(d model.DpaDefinition) model.DpaDefinition {
	d.ProtectedPoints = append([]model.ProtectionPoint(nil), d.ProtectedPoints...)
	d.FreqRanges = append([]model.FreqRange(nil), d.FreqRanges...)
	if d.ThresholdDbm != nil {
		t := *d.ThresholdDbm
		d.ThresholdDbm = &t
	}
	if d.AzimuthRange != nil {
		a := *d.AzimuthRange
		d.AzimuthRange = &a
	}
	if d.NeighborDistances != nil {
		n := *d.NeighborDistances
		d.NeighborDistances = &n
	}
	return d
}

// SetGrants replaces the grant snapshot and notifies subscribers. Grant IDs
// must be unique.
func (kb *KnowledgeBase) SetGrants(grants []model.Grant) error {
	next := make(map[string]model.Grant, len(grants))
	for _, g := range grants {
		if _, dup := next[g.ID]; dup {
			return fmt.Errorf("%w: duplicate grant ID %q", model.ErrBadGrant, g.ID)
		}
		next[g.ID] = g
	}

	kb.mu.Lock()
	kb.grants = next
	event := Event{Type: EventGrantsUpdated, Grants: sortedGrants(next)}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Grants returns the current snapshot ordered by ID.
func (kb *KnowledgeBase) Grants() []model.Grant {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return sortedGrants(kb.grants)
}

func sortedGrants(m map[string]model.Grant) []model.Grant {
	out := make([]model.Grant, 0, len(m))
	for _, g := range m {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

// Subscribe registers a callback for KB events. Callbacks run in
// registration order on the goroutine that made the change. It returns an
// unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}
