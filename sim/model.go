package sim

type modelKey struct {
	Tenant TenantID
	Key    uint64
}

type modelValue struct {
	Value uint64
	Seq   uint64
}

// Model is the in-memory oracle the cluster verifies the system under
// test against. It records every write the primary accepted, split into
// a latest view (for read verification) and the committed history (for
// durability and isolation checks). The model is fed only through the
// same operations the system receives, never through its internals.
type Model struct {
	latest    map[modelKey]modelValue
	committed []Entry

	writesAccepted uint64
	writesRejected uint64
	readsChecked   uint64
	scansChecked   uint64
}

// NewModel creates an empty oracle.
func NewModel() *Model {
	return &Model{latest: make(map[modelKey]modelValue)}
}

// RecordWrite records a write the primary accepted. Rejected writes
// (injected I/O failure at submit) never reach the model.
func (m *Model) RecordWrite(op ClientOp) {
	k := modelKey{Tenant: op.Tenant, Key: op.Key}
	if cur, ok := m.latest[k]; !ok || op.Seq >= cur.Seq {
		m.latest[k] = modelValue{Value: op.Value, Seq: op.Seq}
	}
	m.writesAccepted++
}

// RecordRejected counts a write the primary refused.
func (m *Model) RecordRejected() {
	m.writesRejected++
}

// RecordCommitted appends entries the primary reported as committed, in
// commit order.
func (m *Model) RecordCommitted(entries []Entry) {
	m.committed = append(m.committed, entries...)
}

// RecordReadChecked counts one verified read.
func (m *Model) RecordReadChecked() {
	m.readsChecked++
}

// RecordScanChecked counts one verified scan.
func (m *Model) RecordScanChecked() {
	m.scansChecked++
}

// ExpectedValue returns the value a read of (tenant, key) at the primary
// must observe, and whether any accepted write exists for the key.
func (m *Model) ExpectedValue(tenant TenantID, key uint64) (uint64, bool) {
	v, ok := m.latest[modelKey{Tenant: tenant, Key: key}]
	return v.Value, ok
}

// Committed returns the committed history in commit order. The slice is
// owned by the model; callers must not mutate it.
func (m *Model) Committed() []Entry {
	return m.committed
}

// Stats returns the verification counters.
func (m *Model) Stats() ModelStats {
	return ModelStats{
		WritesAccepted: m.writesAccepted,
		WritesRejected: m.writesRejected,
		ReadsChecked:   m.readsChecked,
		ScansChecked:   m.scansChecked,
	}
}

// ModelStats counts the verification activity of one iteration.
type ModelStats struct {
	WritesAccepted uint64 `json:"writesAccepted"`
	WritesRejected uint64 `json:"writesRejected"`
	ReadsChecked   uint64 `json:"readsChecked"`
	ScansChecked   uint64 `json:"scansChecked"`
}
