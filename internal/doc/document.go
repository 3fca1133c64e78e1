// Package doc is this module's concrete stand-in for "the CRDT document
// library" that spec.md treats as an external collaborator: a
// Lamport-clocked, last-writer-wins register map, generalizing the
// teacher's entry/tag LWW-Set + OR-Set pair (internal/crdt in the example
// pack) to an arbitrary per-document key space. The core never interprets
// the byte values stored here.
package doc

import (
	"encoding/json"
	"sort"

	"github.com/weftsync/weft/internal/core"
)

// Register is a single key's last-writer-wins value. Timestamp and
// Origin together form the core.Stamp that decides which of two
// concurrent writes wins a merge; Origin is the id of the replica that
// produced this register, not of whichever document it lives in.
type Register struct {
	Value     []byte
	Timestamp uint64
	Origin    core.RepoID
	Deleted   bool
}

func (r Register) stamp() core.Stamp { return core.Stamp{Time: r.Timestamp, Origin: r.Origin} }

// Document is one document's CRDT state: a map of string keys to
// last-writer-wins registers, plus the Lamport clock that orders local
// writes. Document is not safe for concurrent use; callers serialize
// access (the registry does this via with_doc_mut).
type Document struct {
	clock *core.Clock
	regs  map[string]Register
}

// New creates an empty document with a fresh clock stamped as origin's.
func New(origin core.RepoID) *Document {
	return &Document{clock: core.NewClock(origin), regs: make(map[string]Register)}
}

// NewWithClock creates an empty document whose clock starts at the given
// time and is stamped as origin's.
func NewWithClock(origin core.RepoID, startTime uint64) *Document {
	return &Document{clock: core.NewClockWithTime(origin, startTime), regs: make(map[string]Register)}
}

// Set assigns value to key, ticking the local clock.
func (d *Document) Set(key string, value []byte) {
	s := d.clock.Tick()
	cp := append([]byte(nil), value...)
	d.regs[key] = Register{Value: cp, Timestamp: s.Time, Origin: s.Origin, Deleted: false}
}

// Delete removes key (as a tombstone, so deletes propagate through sync).
func (d *Document) Delete(key string) {
	s := d.clock.Tick()
	d.regs[key] = Register{Timestamp: s.Time, Origin: s.Origin, Deleted: true}
}

// Get returns key's current value, if present and not deleted.
func (d *Document) Get(key string) ([]byte, bool) {
	r, ok := d.regs[key]
	if !ok || r.Deleted {
		return nil, false
	}
	return append([]byte(nil), r.Value...), true
}

// Keys returns all non-deleted keys, sorted for deterministic iteration.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.regs))
	for k, r := range d.regs {
		if !r.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// IsReady is the library-defined predicate the request tracker consults:
// a document is "ready" once it holds at least one applied register,
// mirroring automerge's "has a root change" notion (spec §4.5).
func (d *Document) IsReady() bool {
	return len(d.regs) > 0
}

// ClockTime returns the document's current Lamport time.
func (d *Document) ClockTime() uint64 { return d.clock.Now() }

// Merge folds other's registers into d: for each key, the register with
// the higher (Timestamp, Origin) stamp wins — Origin breaks ties between
// registers that tick to the same Lamport time on two different
// replicas, so the outcome never depends on the value being written —
// and the local clock is advanced past other's. Merge is commutative,
// associative and idempotent.
func (d *Document) Merge(other *Document) {
	d.clock.Update(other.clock.Now())
	for k, r := range other.regs {
		d.mergeRegister(k, r)
	}
}

func (d *Document) mergeRegister(key string, incoming Register) {
	existing, exists := d.regs[key]
	if !exists || existing.stamp().Less(incoming.stamp()) {
		d.regs[key] = Register{
			Value:     append([]byte(nil), incoming.Value...),
			Timestamp: incoming.Timestamp,
			Origin:    incoming.Origin,
			Deleted:   incoming.Deleted,
		}
	}
}

// Clone deep-copies the document.
func (d *Document) Clone() *Document {
	clone := &Document{clock: core.NewClockWithTime(d.clock.Origin(), d.clock.Now()), regs: make(map[string]Register, len(d.regs))}
	for k, r := range d.regs {
		clone.regs[k] = Register{Value: append([]byte(nil), r.Value...), Timestamp: r.Timestamp, Origin: r.Origin, Deleted: r.Deleted}
	}
	return clone
}

// State is the full serializable snapshot of a document, used for
// storage persistence and for seeding a document from a full sync.
type State struct {
	Registers map[string]Register `json:"registers"`
	ClockTime uint64              `json:"clock_time"`
}

// State returns a snapshot of the document.
func (d *Document) State() State {
	regs := make(map[string]Register, len(d.regs))
	for k, r := range d.regs {
		regs[k] = r
	}
	return State{Registers: regs, ClockTime: d.clock.Now()}
}

// LoadState replaces d's contents with state (used when hydrating a shell
// document from storage or from the first sync message received for an
// unknown document, spec §4.4 step 3).
func (d *Document) LoadState(state State) {
	d.regs = make(map[string]Register, len(state.Registers))
	for k, r := range state.Registers {
		d.regs[k] = r
	}
	d.clock = core.NewClockWithTime(d.clock.Origin(), state.ClockTime)
}

// Marshal/Unmarshal let a State cross the storage or sync boundary as
// bytes; the core treats the result as opaque.
func (s State) Marshal() ([]byte, error) { return json.Marshal(s) }

func UnmarshalState(b []byte) (State, error) {
	var s State
	err := json.Unmarshal(b, &s)
	return s, err
}

// Delta carries only the registers that changed after Since, so a sync
// session never has to ship a document's full state once a peer is
// caught up to some earlier point.
type Delta struct {
	Registers map[string]Register `json:"registers"`
	ClockTime uint64              `json:"clock_time"`
	Since     uint64              `json:"since"`
}

// DeltaSince returns the registers this document has changed after the
// given Lamport time.
func (d *Document) DeltaSince(since uint64) Delta {
	regs := make(map[string]Register)
	for k, r := range d.regs {
		if r.Timestamp > since {
			regs[k] = r
		}
	}
	return Delta{Registers: regs, ClockTime: d.clock.Now(), Since: since}
}

// ApplyDelta merges a peer's delta into d, exactly as Merge would for
// just those registers, and advances d's clock past the delta's.
func (d *Document) ApplyDelta(delta Delta) {
	d.clock.Update(delta.ClockTime)
	for k, r := range delta.Registers {
		d.mergeRegister(k, r)
	}
}

// Marshal/Unmarshal let a Delta cross the wire as an opaque payload.
func (delta Delta) Marshal() ([]byte, error) { return json.Marshal(delta) }

func UnmarshalDelta(b []byte) (Delta, error) {
	var delta Delta
	err := json.Unmarshal(b, &delta)
	return delta, err
}
