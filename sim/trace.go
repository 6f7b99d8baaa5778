package sim

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// TraceRecord is one dispatched event in a retained trace.
type TraceRecord struct {
	Seq    uint64      `json:"seq"`
	TimeNs VirtualTime `json:"timeNs"`
	Kind   string      `json:"kind"`
	Detail string      `json:"detail"`
}

// Trace folds every dispatched event into a running digest. Two
// iterations are bit-identical exactly when their digests, event counts,
// and final times match. Full records are retained only when requested;
// the digest alone is enough for determinism validation.
type Trace struct {
	digest  *xxhash.Digest
	count   uint64
	keep    bool
	records []TraceRecord
}

// NewTrace creates a trace collector. keepRecords retains the full event
// list for replay inspection at the cost of memory.
func NewTrace(keepRecords bool) *Trace {
	return &Trace{digest: xxhash.New(), keep: keepRecords}
}

// Record folds one dispatched event into the digest.
func (t *Trace) Record(event Event) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], t.count)
	_, _ = t.digest.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(event.Timestamp()))
	_, _ = t.digest.Write(buf[:])
	_, _ = t.digest.WriteString(event.String())

	if t.keep {
		t.records = append(t.records, TraceRecord{
			Seq:    t.count,
			TimeNs: event.Timestamp(),
			Kind:   event.Kind().String(),
			Detail: event.String(),
		})
	}
	t.count++
}

// Digest returns the running trace digest.
func (t *Trace) Digest() uint64 {
	return t.digest.Sum64()
}

// Count returns the number of recorded events.
func (t *Trace) Count() uint64 {
	return t.count
}

// Records returns the retained event list, nil unless retention was
// requested.
func (t *Trace) Records() []TraceRecord {
	return t.records
}
