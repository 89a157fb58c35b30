package accountant

import (
	"time"

	"github.com/siqueiraa/kaflow-restructure/pkg/offsets"
)

// Transaction is the intent to mark one offset as processed.
type Transaction struct {
	TopicPartition offsets.TopicPartition
	Offset         int64
	LastModified   time.Time
}

func (t Transaction) Range() offsets.OffsetRange {
	return offsets.OffsetRange{
		TopicPartition: t.TopicPartition,
		Range:          offsets.Range{From: t.Offset, To: t.Offset, LastModified: t.LastModified},
	}
}

// Ledger collects the transactions of one output file session. It becomes
// durable only when passed to Accountant.Process.
type Ledger struct {
	set *offsets.OffsetRangeSet
}

func NewLedger() *Ledger {
	return &Ledger{set: offsets.NewOffsetRangeSet()}
}

func (l *Ledger) Add(t Transaction) {
	// a fresh set is always writable
	_ = l.set.Add(t.Range())
}

func (l *Ledger) IsEmpty() bool {
	return l.set.IsEmpty()
}

// Offsets returns the recorded ranges.
func (l *Ledger) Offsets() *offsets.OffsetRangeSet {
	return l.set
}
