package qlink

import "fmt"

// Qubit roles in the teleportation circuit.
const (
	qMessage = 0
	qAlice   = 1
	qBob     = 2
)

// CorrectionPair is the classical outcome of the sender's Bell measurement.
type CorrectionPair struct {
	M0 byte // message qubit, selects the phase correction
	M1 byte // sender half of the Bell pair, selects the bit flip
}

func (c CorrectionPair) String() string {
	return fmt.Sprintf("%d%d", c.M0, c.M1)
}

// BitResult is the outcome of teleporting a single classical bit.
type BitResult struct {
	Input      byte
	Correction CorrectionPair
	Teleported byte
	Success    bool
	Backend    string
}

/*
Teleporter runs the two-phase teleportation protocol for one bit at a time
on a Backend. The sender phase produces the correction pair; the receiver
phase rebuilds the same circuit, conditions it on that pair, applies the
corrections and reads the teleported bit.
*/
type Teleporter struct {
	backend Backend
}

// NewTeleporter runs both phases of every bit on backend.
func NewTeleporter(backend Backend) *Teleporter {
	return &Teleporter{backend: backend}
}

func (t *Teleporter) Backend() Backend { return t.backend }

/*
prepare builds |b⟩ on the message qubit, a Bell pair on the two auxiliary
qubits, and rotates the message and sender qubits into the Bell basis.
*/
func prepare(bit byte) *Circuit {
	c := NewCircuit(3)
	if bit != 0 {
		c.X(qMessage)
	}
	c.H(qAlice).CNOT(qAlice, qBob)
	c.CNOT(qMessage, qAlice).H(qMessage)
	return c
}

// Send runs the sender phase and returns the correction pair.
func (t *Teleporter) Send(bit byte) (CorrectionPair, error) {
	c := prepare(bit).Measure(qMessage).Measure(qAlice)

	out, err := t.backend.Execute(c)
	if err != nil {
		return CorrectionPair{}, fmt.Errorf("sender phase: %w", err)
	}

	return CorrectionPair{M0: out[qMessage], M1: out[qAlice]}, nil
}

/*
Receive runs the receiver phase for a given correction pair: the Bell
measurement is fixed to pair, Bob's qubit gets X^M1 then Z^M0, and is
measured. Every pair has probability 1/4, so any pair can be replayed.
*/
func (t *Teleporter) Receive(bit byte, pair CorrectionPair) (byte, error) {
	c := prepare(bit).Project(qMessage, pair.M0).Project(qAlice, pair.M1)
	if pair.M1 == 1 {
		c.X(qBob)
	}
	if pair.M0 == 1 {
		c.Z(qBob)
	}
	c.Measure(qBob)

	out, err := t.backend.Execute(c)
	if err != nil {
		return 0, fmt.Errorf("receiver phase: %w", err)
	}

	return out[qBob], nil
}

// TeleportBit runs both phases for the low bit of bit.
func (t *Teleporter) TeleportBit(bit byte) (BitResult, error) {
	bit &= 1

	pair, err := t.Send(bit)
	if err != nil {
		return BitResult{}, err
	}

	got, err := t.Receive(bit, pair)
	if err != nil {
		return BitResult{}, err
	}

	return BitResult{
		Input:      bit,
		Correction: pair,
		Teleported: got,
		Success:    got == bit,
		Backend:    t.backend.Name(),
	}, nil
}
