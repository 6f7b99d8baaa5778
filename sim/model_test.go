package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModelTracksLatestAcceptedWrite(t *testing.T) {
	m := NewModel()

	_, ok := m.ExpectedValue(1, 10)
	require.False(t, ok)

	m.RecordWrite(ClientOp{Kind: OpWrite, Tenant: 1, Key: 10, Value: 5, Seq: 0})
	m.RecordWrite(ClientOp{Kind: OpWrite, Tenant: 1, Key: 10, Value: 6, Seq: 1})

	v, ok := m.ExpectedValue(1, 10)
	require.True(t, ok)
	require.Equal(t, uint64(6), v)

	// Same key under another tenant is a distinct record.
	_, ok = m.ExpectedValue(2, 10)
	require.False(t, ok)
}

func TestModelRejectedWritesLeaveNoTrace(t *testing.T) {
	m := NewModel()
	m.RecordRejected()

	_, ok := m.ExpectedValue(0, 1)
	require.False(t, ok)
	require.Equal(t, uint64(1), m.Stats().WritesRejected)
	require.Equal(t, uint64(0), m.Stats().WritesAccepted)
}

func TestModelCommittedHistoryPreservesOrder(t *testing.T) {
	m := NewModel()
	e1 := NewEntry(0, 1, 10, 0)
	e2 := NewEntry(0, 2, 20, 1)
	m.RecordCommitted([]Entry{e1})
	m.RecordCommitted([]Entry{e2})

	committed := m.Committed()
	require.Equal(t, []Entry{e1, e2}, committed)
}
