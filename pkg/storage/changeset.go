package storage

import (
	"github.com/orneryd/quadstore/pkg/logging"
	"github.com/orneryd/quadstore/pkg/rdf"
)

// Changeset is one atomic batch of quad changes.
//
// Incremented and Decremented hold quads whose multiplicity changed but stayed
// positive. Added and Removed hold quads that crossed zero. As input to Insert,
// only Added and Removed are read.
type Changeset struct {
	Incremented []rdf.Quad
	Decremented []rdf.Quad
	Added       []rdf.Quad
	Removed     []rdf.Quad
}

// NewChangeset returns a changeset of added and removed quads.
func NewChangeset(added, removed []rdf.Quad) *Changeset {
	return &Changeset{Added: added, Removed: removed}
}

// ChangesetFromAdded returns a changeset that only adds.
func ChangesetFromAdded(added []rdf.Quad) *Changeset {
	return &Changeset{Added: added}
}

// ChangesetFromRemoved returns a changeset that only removes.
func ChangesetFromRemoved(removed []rdf.Quad) *Changeset {
	return &Changeset{Removed: removed}
}

// IsEmpty reports whether the changeset carries no change.
func (c *Changeset) IsEmpty() bool {
	return c == nil || (len(c.Incremented) == 0 && len(c.Decremented) == 0 && len(c.Added) == 0 && len(c.Removed) == 0)
}

// Size returns the total number of quads in the changeset.
func (c *Changeset) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Incremented) + len(c.Decremented) + len(c.Added) + len(c.Removed)
}

// ChangeListener observes a dataset.
//
// Single-quad mutations fire one of the OnAdded/OnIncremented/OnRemoved/
// OnDecremented callbacks; batch mutations fire a single OnChange.
type ChangeListener interface {
	OnIncremented(q rdf.Quad)
	OnDecremented(q rdf.Quad)
	OnAdded(q rdf.Quad)
	OnRemoved(q rdf.Quad)
	OnChange(cs *Changeset)
}

// ListenerFuncs adapts optional callbacks to ChangeListener. Register it by
// pointer so RemoveListener can find it again.
type ListenerFuncs struct {
	Incremented func(q rdf.Quad)
	Decremented func(q rdf.Quad)
	Added       func(q rdf.Quad)
	Removed     func(q rdf.Quad)
	Change      func(cs *Changeset)
}

func (l *ListenerFuncs) OnIncremented(q rdf.Quad) {
	if l.Incremented != nil {
		l.Incremented(q)
	}
}

func (l *ListenerFuncs) OnDecremented(q rdf.Quad) {
	if l.Decremented != nil {
		l.Decremented(q)
	}
}

func (l *ListenerFuncs) OnAdded(q rdf.Quad) {
	if l.Added != nil {
		l.Added(q)
	}
}

func (l *ListenerFuncs) OnRemoved(q rdf.Quad) {
	if l.Removed != nil {
		l.Removed(q)
	}
}

func (l *ListenerFuncs) OnChange(cs *Changeset) {
	if l.Change != nil {
		l.Change(cs)
	}
}

// Event kinds recorded by Recorder.
const (
	EventIncremented = "incremented"
	EventDecremented = "decremented"
	EventAdded       = "added"
	EventRemoved     = "removed"
	EventChange      = "change"
)

// Event is one notification seen by a Recorder.
type Event struct {
	Kind      string
	Quad      rdf.Quad
	Changeset *Changeset
}

// Recorder is a ChangeListener that keeps every event it receives.
type Recorder struct {
	Events []Event
}

func (r *Recorder) OnIncremented(q rdf.Quad) {
	r.Events = append(r.Events, Event{Kind: EventIncremented, Quad: q})
}

func (r *Recorder) OnDecremented(q rdf.Quad) {
	r.Events = append(r.Events, Event{Kind: EventDecremented, Quad: q})
}

func (r *Recorder) OnAdded(q rdf.Quad) { r.Events = append(r.Events, Event{Kind: EventAdded, Quad: q}) }

func (r *Recorder) OnRemoved(q rdf.Quad) {
	r.Events = append(r.Events, Event{Kind: EventRemoved, Quad: q})
}

func (r *Recorder) OnChange(cs *Changeset) {
	r.Events = append(r.Events, Event{Kind: EventChange, Changeset: cs})
}

// Changes returns the changesets of every OnChange event.
func (r *Recorder) Changes() []*Changeset {
	var out []*Changeset
	for _, e := range r.Events {
		if e.Kind == EventChange {
			out = append(out, e.Changeset)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() { r.Events = nil }

// listeners is a copy-on-dispatch listener list.
type listeners struct {
	list []ChangeListener
}

func (ls *listeners) add(l ChangeListener) {
	ls.list = append(ls.list, l)
}

func (ls *listeners) remove(l ChangeListener) {
	for i, x := range ls.list {
		if x == l {
			ls.list = append(ls.list[:i:i], ls.list[i+1:]...)
			return
		}
	}
}

func (ls *listeners) empty() bool { return len(ls.list) == 0 }

// each calls fn for a snapshot of the listeners. Listener panics are logged
// and do not stop delivery to the others.
func (ls *listeners) each(fn func(l ChangeListener)) {
	if len(ls.list) == 0 {
		return
	}
	snapshot := append([]ChangeListener(nil), ls.list...)
	for _, l := range snapshot {
		deliver(l, fn)
	}
}

func deliver(l ChangeListener, fn func(l ChangeListener)) {
	defer func() {
		if r := recover(); r != nil {
			logging.Named("storage").Errorw("change listener panicked", "listener", l, "panic", r)
		}
	}()
	fn(l)
}

func (ls *listeners) incremented(q rdf.Quad) {
	ls.each(func(l ChangeListener) { l.OnIncremented(q) })
}

func (ls *listeners) decremented(q rdf.Quad) {
	ls.each(func(l ChangeListener) { l.OnDecremented(q) })
}

func (ls *listeners) added(q rdf.Quad) { ls.each(func(l ChangeListener) { l.OnAdded(q) }) }

func (ls *listeners) removed(q rdf.Quad) { ls.each(func(l ChangeListener) { l.OnRemoved(q) }) }

func (ls *listeners) changed(cs *Changeset) {
	if cs.IsEmpty() {
		return
	}
	ls.each(func(l ChangeListener) { l.OnChange(cs) })
}
