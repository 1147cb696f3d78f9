package harness

import (
	"sync"
	"sync/atomic"

	"github.com/streamhaus/floodline/internal/harness/ids"
)

// RunContext is the state shared by every engine in one run: the
// identifier source producers draw from, the duplicate set consumers
// check deliveries against, and the statistics everything reconciles
// into. One RunContext per run; engines hold it, never copy it.
type RunContext struct {
	runID  string
	lastID atomic.Uint64
	dupes  *DuplicateSet
	stats  *Stats
}

func NewRunContext(stats *Stats) *RunContext {
	if stats == nil {
		stats = NewStats()
	}
	return &RunContext{
		runID: ids.NewRunID(),
		dupes: NewDuplicateSet(),
		stats: stats,
	}
}

// RunID identifies this run in logs, metrics and reports.
func (rc *RunContext) RunID() string { return rc.runID }

// NextID mints the next message identifier. Identifiers start at 1 and
// never repeat within a run; zero is never minted, so a zero envelope
// identifier always means a decoding bug.
func (rc *RunContext) NextID() uint64 { return rc.lastID.Add(1) }

// LastID reports the highest identifier minted so far.
func (rc *RunContext) LastID() uint64 { return rc.lastID.Load() }

func (rc *RunContext) Duplicates() *DuplicateSet { return rc.dupes }

func (rc *RunContext) Stats() *Stats { return rc.stats }

// DuplicateSet records every identifier any consumer has seen, so
// redelivered messages can be told apart from first deliveries.
type DuplicateSet struct {
	mu   sync.Mutex
	seen map[uint64]struct{}
}

func NewDuplicateSet() *DuplicateSet {
	return &DuplicateSet{seen: make(map[uint64]struct{})}
}

// Add inserts id and reports whether this was its first insertion.
// Check and insert are one atomic step, so two consumers handling the
// same redelivered identifier race to a single winner.
func (s *DuplicateSet) Add(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Size reports how many distinct identifiers have been inserted.
func (s *DuplicateSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
