package qlink

import (
	"fmt"
	"math"

	"github.com/theapemachine/errnie"
)

const (
	// ClearanceThreshold is the fidelity a scan must exceed to be granted.
	ClearanceThreshold = 0.95

	// PartialThreshold separates grounding levels 0 and 1 on a denied scan.
	PartialThreshold = 0.5

	idleEntropy     = 0.1
	convergeStride  = 5
	resampleStride  = 10
	complexityRate  = 0.8
	complexityLimit = 80
)

// Grounding levels.
const (
	GroundingNone    = 0
	GroundingPartial = 1
	GroundingLocked  = 2
)

// Phase is the coarse state of the grounding machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseGranted
	PhaseDenied
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseGranted:
		return "granted"
	case PhaseDenied:
		return "denied"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Mode is the scanning sub-mode.
type Mode int

const (
	ModeConverge Mode = iota
	ModeSearch
)

/*
Variant carries the labels and constants of one station flavour. The two
variants differ in scan length, what "locked" looks like, and whether the
search sub-mode resamples.
*/
type Variant struct {
	Name           string
	IdleLabel      string
	ConvergeLabel  string
	SearchLabel    string
	IdleStatus     string
	ConvergeStatus string
	SearchStatus   string
	LockedStatus   string
	FailedStatus   string
	ScanLimit      int
	LockedEntropy  float64
	Resample       bool
	Complexity     bool
}

var (
	GroundingVariant = Variant{
		Name:           "grounding",
		IdleLabel:      "INIT: 0,0",
		ConvergeLabel:  "GROUNDING: 0,1 -- 1,0",
		SearchLabel:    "INIT: 0,1",
		IdleStatus:     "SYSTEM: UNGROUNDED",
		ConvergeStatus: "CALCULATING FIDELITY...",
		SearchStatus:   "SYSTEM: UNGROUNDED",
		LockedStatus:   "STATE LOCKED: |Ψ⁻⟩",
		FailedStatus:   "DECOHERENCE DETECTED",
		ScanLimit:      100,
		LockedEntropy:  0.5,
		Resample:       true,
	}

	HorizonVariant = Variant{
		Name:           "horizon",
		IdleLabel:      "INIT: 0",
		ConvergeLabel:  "HORIZON: 2^{80}",
		SearchLabel:    "INIT: 0",
		IdleStatus:     "SYSTEM: IDLE",
		ConvergeStatus: "CALCULATING PROBABILITY SPACE...",
		SearchStatus:   "SYSTEM: IDLE",
		LockedStatus:   "HORIZON REACHED. COLLAPSED.",
		FailedStatus:   "COMPUTATIONAL FAILURE",
		ScanLimit:      120,
		LockedEntropy:  1.0,
		Complexity:     true,
	}
)

// VariantByName looks a variant up by its config name.
func VariantByName(name string) (Variant, error) {
	switch name {
	case "", GroundingVariant.Name:
		return GroundingVariant, nil
	case HorizonVariant.Name:
		return HorizonVariant, nil
	default:
		return Variant{}, fmt.Errorf("unknown variant %q", name)
	}
}

/*
GroundingMachine cycles the station through idle, scanning and resolved
phases. While converging it mixes the current state toward the target every
few ticks; while searching it keeps resampling fresh random states. Once the
timer passes the variant's scan limit the fidelity decides clearance.

It is not safe for concurrent use: one loop owns it and calls Cycle and
Tick. Readers go through the Station.
*/
type GroundingMachine struct {
	variant Variant
	engine  *Engine
	station *Station

	target  Matrix
	current Matrix

	phase      Phase
	mode       Mode
	protocol   string
	status     string
	timer      int
	fidelity   float64
	entropy    float64
	level      int
	granted    bool
	complexity float64
}

// MachineOption configures a GroundingMachine.
type MachineOption func(*GroundingMachine)

func WithVariant(v Variant) MachineOption {
	return func(m *GroundingMachine) { m.variant = v }
}

func WithEngine(e *Engine) MachineOption {
	return func(m *GroundingMachine) { m.engine = e }
}

// WithTarget replaces the singlet target state.
func WithTarget(target Matrix) MachineOption {
	return func(m *GroundingMachine) { m.target = target }
}

// WithInitialState replaces the randomly sampled starting state.
func WithInitialState(state Matrix) MachineOption {
	return func(m *GroundingMachine) { m.current = state }
}

/*
NewGroundingMachine creates an idle machine and publishes its first
snapshot. Without options it runs the grounding variant toward the singlet
from a random product state.
*/
func NewGroundingMachine(station *Station, opts ...MachineOption) *GroundingMachine {
	m := &GroundingMachine{
		variant: GroundingVariant,
		station: station,
		entropy: idleEntropy,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.engine == nil {
		m.engine = NewEngine(nil)
	}
	if m.target.Dim() == 0 {
		m.target = SingletState()
	}
	if m.current.Dim() == 0 {
		m.current = m.engine.RandomState()
	}

	m.protocol = m.variant.IdleLabel
	m.status = m.variant.IdleStatus
	m.publish()

	return m
}

func (m *GroundingMachine) Phase() Phase        { return m.phase }
func (m *GroundingMachine) Mode() Mode          { return m.mode }
func (m *GroundingMachine) Timer() int          { return m.timer }
func (m *GroundingMachine) Fidelity() float64   { return m.fidelity }
func (m *GroundingMachine) Variant() Variant    { return m.variant }
func (m *GroundingMachine) State() Matrix       { return m.current.Clone() }
func (m *GroundingMachine) Scanning() bool      { return m.phase == PhaseScanning }
func (m *GroundingMachine) AccessGranted() bool { return m.granted }

/*
Cycle starts a new scan, alternating between the converge and search
sub-modes. It reports false and does nothing while a scan is running.
*/
func (m *GroundingMachine) Cycle() bool {
	if m.phase == PhaseScanning {
		return false
	}

	if m.protocol != m.variant.ConvergeLabel {
		m.mode = ModeConverge
		m.protocol = m.variant.ConvergeLabel
		m.status = m.variant.ConvergeStatus
	} else {
		m.mode = ModeSearch
		m.protocol = m.variant.SearchLabel
		m.status = m.variant.SearchStatus
		m.current = m.engine.RandomState()
	}

	m.phase = PhaseScanning
	m.granted = false
	m.timer = 0
	m.entropy = idleEntropy
	m.level = GroundingNone
	m.fidelity = 0
	m.complexity = 0

	m.publish()
	return true
}

// Tick advances a running scan by one step. It is a no-op otherwise.
func (m *GroundingMachine) Tick() {
	if m.phase != PhaseScanning {
		return
	}

	m.timer++

	switch m.mode {
	case ModeConverge:
		if m.variant.Complexity {
			m.complexity = math.Min(
				math.Ldexp(1, complexityLimit),
				math.Pow(2, float64(m.timer)*complexityRate),
			)
		}
		if m.timer%convergeStride == 0 {
			mix := math.Min(1, float64(m.timer)/float64(m.variant.ScanLimit))
			m.current = Evolve(m.current, m.target, mix)
			m.fidelity = Fidelity(m.current, m.target)
			m.entropy = m.fidelity
		}
	case ModeSearch:
		if m.variant.Resample && m.timer%resampleStride == 0 {
			m.current = m.engine.RandomState()
			m.fidelity = Fidelity(m.current, m.target)
		}
	}

	if m.timer > m.variant.ScanLimit {
		m.resolve()
	}

	m.publish()
}

func (m *GroundingMachine) resolve() {
	if m.fidelity > ClearanceThreshold {
		m.phase = PhaseGranted
		m.level = GroundingLocked
		m.granted = true
		m.entropy = m.variant.LockedEntropy
		m.status = m.variant.LockedStatus
		if m.variant.Complexity {
			m.complexity = math.Ldexp(1, complexityLimit)
		}
	} else {
		m.phase = PhaseDenied
		m.level = GroundingNone
		if m.fidelity > PartialThreshold {
			m.level = GroundingPartial
		}
		m.granted = false
		m.entropy = idleEntropy
		m.status = m.variant.FailedStatus
	}

	errnie.Info("clearance - phase %v, fidelity %.4f, level %d", m.phase, m.fidelity, m.level)
}

func (m *GroundingMachine) publish() {
	if m.station == nil {
		return
	}
	m.station.publish(Snapshot{
		Protocol:       m.protocol,
		Status:         m.status,
		AccessGranted:  m.granted,
		GroundingLevel: m.level,
		EntropyControl: m.entropy,
		Fidelity:       m.fidelity,
		Complexity:     m.complexity,
		Scanning:       m.phase == PhaseScanning,
	})
}
