package qlink

import (
	"math"
	"sync"
	"sync/atomic"
)

// LogCapacity is the number of message log lines kept.
const LogCapacity = 8

/*
Snapshot is a read-only copy of everything a display layer may show.
*/
type Snapshot struct {
	Protocol       string
	Status         string
	AccessGranted  bool
	GroundingLevel int
	EntropyControl float64
	Fidelity       float64
	Complexity     float64
	Scanning       bool
	Log            []string
}

/*
Station is the shared state handle of a running ground station. The
grounding machine is its only writer of machine fields; session roles and
the pipeline append to the log; display layers only call Snapshot.

Fidelity is kept in an atomic so the heartbeat can read it without
touching the lock.
*/
type Station struct {
	mu       sync.RWMutex
	state    Snapshot
	log      []string
	fidelity atomic.Uint64
}

/*
NewStation returns an idle station whose log already carries the boot
lines a display shows before any uplink.
*/
func NewStation() *Station {
	s := &Station{
		log: make([]string, 0, LogCapacity),
	}
	s.AppendLog("SYSTEM READY...")
	s.AppendLog("WAITING FOR UPLINK...")
	return s
}

// Fidelity returns the most recently published fidelity.
func (s *Station) Fidelity() float64 {
	return math.Float64frombits(s.fidelity.Load())
}

// AppendLog adds a line, evicting the oldest once LogCapacity is reached.
func (s *Station) AppendLog(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.log) == LogCapacity {
		copy(s.log, s.log[1:])
		s.log = s.log[:LogCapacity-1]
	}
	s.log = append(s.log, line)
}

// Log returns a copy of the message log, oldest first.
func (s *Station) Log() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

/*
Snapshot copies the machine fields and the log under the read lock.
Fidelity comes from the atomic, so it may be one publish newer than the
other fields.
*/
func (s *Station) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.state
	snap.Log = make([]string, len(s.log))
	copy(snap.Log, s.log)
	s.mu.RUnlock()

	snap.Fidelity = s.Fidelity()
	return snap
}

// publish replaces the machine fields. Only the grounding machine calls it.
func (s *Station) publish(state Snapshot) {
	s.mu.Lock()
	state.Log = nil
	s.state = state
	s.mu.Unlock()

	s.fidelity.Store(math.Float64bits(state.Fidelity))
}
