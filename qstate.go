package qlink

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand/v2"
)

var errZeroProbability = errors.New("projection onto zero-probability outcome")

/*
Register is a pure state vector over a small number of qubits. Qubit k is
bit k of the basis index, so |q2 q1 q0⟩ lives at index q0 + 2·q1 + 4·q2.
*/
type Register struct {
	Vector []complex128
}

// NewRegister returns a register of n qubits prepared in |0…0⟩.
func NewRegister(n int) *Register {
	v := make([]complex128, 1<<n)
	v[0] = 1
	return &Register{Vector: v}
}

// X flips qubit k.
func (r *Register) X(k int) {
	mask := 1 << k
	for i := range r.Vector {
		if i&mask == 0 {
			r.Vector[i], r.Vector[i|mask] = r.Vector[i|mask], r.Vector[i]
		}
	}
}

// Z applies a phase of -1 to the |1⟩ component of qubit k.
func (r *Register) Z(k int) {
	mask := 1 << k
	for i := range r.Vector {
		if i&mask != 0 {
			r.Vector[i] = -r.Vector[i]
		}
	}
}

// H applies a Hadamard to qubit k.
//
//	H = 1/√2 * [1  1]
//	           [1 -1]
func (r *Register) H(k int) {
	mask := 1 << k
	s := complex(1/math.Sqrt2, 0)
	for i := range r.Vector {
		if i&mask == 0 {
			a, b := r.Vector[i], r.Vector[i|mask]
			r.Vector[i] = (a + b) * s
			r.Vector[i|mask] = (a - b) * s
		}
	}
}

// CNOT flips target wherever control is |1⟩.
func (r *Register) CNOT(control, target int) {
	cm, tm := 1<<control, 1<<target
	for i := range r.Vector {
		if i&cm != 0 && i&tm == 0 {
			r.Vector[i], r.Vector[i|tm] = r.Vector[i|tm], r.Vector[i]
		}
	}
}

// Probability returns the probability of reading 1 on qubit k.
func (r *Register) Probability(k int) float64 {
	mask := 1 << k
	var p float64
	for i, amplitude := range r.Vector {
		if i&mask != 0 {
			a := cmplx.Abs(amplitude)
			p += a * a
		}
	}
	return p
}

/*
Measure samples qubit k, collapses the register onto the observed outcome,
and returns it.
*/
func (r *Register) Measure(k int, rng *rand.Rand) byte {
	p := r.Probability(k)

	var outcome byte
	switch {
	case p > 1-1e-12:
		outcome = 1
	case p < 1e-12:
		outcome = 0
	case rng.Float64() < p:
		outcome = 1
	}

	// The sampled outcome always has non-zero probability.
	_ = r.Project(k, outcome)
	return outcome
}

/*
Project post-selects qubit k onto value and renormalizes. It fails when
the outcome has zero probability, leaving the register untouched.
*/
func (r *Register) Project(k int, value byte) error {
	mask := 1 << k
	want := 0
	if value != 0 {
		want = mask
	}

	var norm float64
	for i, amplitude := range r.Vector {
		if i&mask == want {
			a := cmplx.Abs(amplitude)
			norm += a * a
		}
	}
	if norm < 1e-12 {
		return errZeroProbability
	}

	scale := complex(1/math.Sqrt(norm), 0)
	for i := range r.Vector {
		if i&mask == want {
			r.Vector[i] *= scale
		} else {
			r.Vector[i] = 0
		}
	}
	return nil
}
