package qlink

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// ErrBackendUnavailable is returned by backends that cannot run circuits.
var ErrBackendUnavailable = errors.New("simulation backend unavailable")

// Gate identifies a circuit instruction.
type Gate int

const (
	GateX Gate = iota
	GateZ
	GateH
	GateCNOT
	GateMeasure
	GateProject
)

func (g Gate) String() string {
	switch g {
	case GateX:
		return "x"
	case GateZ:
		return "z"
	case GateH:
		return "h"
	case GateCNOT:
		return "cx"
	case GateMeasure:
		return "measure"
	case GateProject:
		return "project"
	default:
		return fmt.Sprintf("gate(%d)", int(g))
	}
}

// Op is one instruction. Control is only read by CNOT, Value only by Project.
type Op struct {
	Gate    Gate
	Target  int
	Control int
	Value   byte
}

// Circuit is an ordered list of instructions over a fixed number of qubits.
type Circuit struct {
	Qubits int
	Ops    []Op
}

// NewCircuit starts an empty circuit; every qubit begins in |0⟩.
func NewCircuit(qubits int) *Circuit {
	return &Circuit{Qubits: qubits}
}

// X, Z and H append single-qubit gates on qubit k.
func (c *Circuit) X(k int) *Circuit { return c.add(Op{Gate: GateX, Target: k}) }

func (c *Circuit) Z(k int) *Circuit { return c.add(Op{Gate: GateZ, Target: k}) }

func (c *Circuit) H(k int) *Circuit { return c.add(Op{Gate: GateH, Target: k}) }

func (c *Circuit) CNOT(control, target int) *Circuit {
	return c.add(Op{Gate: GateCNOT, Control: control, Target: target})
}

// Measure reads qubit k into the Readout, collapsing it.
func (c *Circuit) Measure(k int) *Circuit { return c.add(Op{Gate: GateMeasure, Target: k}) }

// Project post-selects qubit k onto value.
func (c *Circuit) Project(k int, value byte) *Circuit {
	return c.add(Op{Gate: GateProject, Target: k, Value: value})
}

func (c *Circuit) add(op Op) *Circuit {
	c.Ops = append(c.Ops, op)
	return c
}

/*
Readout maps a measured qubit index to its classical bit.
*/
type Readout map[int]byte

/*
Backend runs circuits. Available reports whether the backend can currently
accept work; Execute returns the classical bits of every measured qubit.
*/
type Backend interface {
	Name() string
	Available() error
	Execute(c *Circuit) (Readout, error)
}

/*
StateVectorBackend is the noiseless simulator. It keeps the full state
vector and samples measurements from it.
*/
type StateVectorBackend struct {
	mu  sync.Mutex
	rng *rand.Rand
}

/*
NewStateVectorBackend samples measurements from src. A nil source gets a
randomly seeded PCG; tests pass a fixed one for reproducible readouts.
*/
func NewStateVectorBackend(src rand.Source) *StateVectorBackend {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &StateVectorBackend{rng: rand.New(src)}
}

func (b *StateVectorBackend) Name() string { return "statevector_simulator" }

func (b *StateVectorBackend) Available() error { return nil }

func (b *StateVectorBackend) Execute(c *Circuit) (Readout, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg := NewRegister(c.Qubits)
	out := make(Readout)

	for i, op := range c.Ops {
		if op.Target < 0 || op.Target >= c.Qubits {
			return nil, fmt.Errorf("op %d (%s): qubit %d out of range", i, op.Gate, op.Target)
		}

		switch op.Gate {
		case GateX:
			reg.X(op.Target)
		case GateZ:
			reg.Z(op.Target)
		case GateH:
			reg.H(op.Target)
		case GateCNOT:
			if op.Control < 0 || op.Control >= c.Qubits || op.Control == op.Target {
				return nil, fmt.Errorf("op %d (%s): bad control %d", i, op.Gate, op.Control)
			}
			reg.CNOT(op.Control, op.Target)
		case GateMeasure:
			out[op.Target] = reg.Measure(op.Target, b.rng)
		case GateProject:
			if err := reg.Project(op.Target, op.Value); err != nil {
				return nil, fmt.Errorf("op %d (%s): %w", i, op.Gate, err)
			}
		default:
			return nil, fmt.Errorf("op %d: unknown gate %s", i, op.Gate)
		}
	}

	return out, nil
}

/*
NoisyBackend wraps another backend and flips every measured bit with
probability FlipProbability, a crude readout-error channel.
*/
type NoisyBackend struct {
	Inner           Backend
	FlipProbability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewNoisyBackend wraps inner; src drives the flips and may be nil.
func NewNoisyBackend(inner Backend, flip float64, src rand.Source) *NoisyBackend {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &NoisyBackend{Inner: inner, FlipProbability: flip, rng: rand.New(src)}
}

func (b *NoisyBackend) Name() string { return "noisy(" + b.Inner.Name() + ")" }

func (b *NoisyBackend) Available() error { return b.Inner.Available() }

func (b *NoisyBackend) Execute(c *Circuit) (Readout, error) {
	out, err := b.Inner.Execute(c)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for k, bit := range out {
		if b.rng.Float64() < b.FlipProbability {
			out[k] = bit ^ 1
		}
	}
	return out, nil
}

// OfflineBackend never accepts work.
type OfflineBackend struct{}

func (OfflineBackend) Name() string { return "offline" }

func (OfflineBackend) Available() error { return ErrBackendUnavailable }

func (OfflineBackend) Execute(*Circuit) (Readout, error) { return nil, ErrBackendUnavailable }
