package qlink

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/theapemachine/errnie"
)

// StateDim is the dimension of the two-qubit Hilbert space the engine works in.
const StateDim = 4

/*
Engine evolves a simulated two-particle state. It owns the randomness used
to sample fresh states so a seeded engine gives reproducible scans.
*/
type Engine struct {
	mu  sync.Mutex
	rng *rand.Rand
}

/*
NewEngine creates an engine drawing from src. A nil source gets a randomly
seeded PCG.
*/
func NewEngine(src rand.Source) *Engine {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	errnie.Info("NewEngine - dim %d", StateDim)

	return &Engine{rng: rand.New(src)}
}

/*
RandomState returns the density matrix of a tensor product of two
independent random pure qubit states.
*/
func (e *Engine) RandomState() Matrix {
	e.mu.Lock()
	a := e.randomKet()
	b := e.randomKet()
	e.mu.Unlock()

	return Outer(a).Kron(Outer(b))
}

// randomKet draws a Haar-random pure qubit from normalized complex Gaussians.
func (e *Engine) randomKet() []complex128 {
	v := []complex128{
		complex(e.rng.NormFloat64(), e.rng.NormFloat64()),
		complex(e.rng.NormFloat64(), e.rng.NormFloat64()),
	}
	return normalize(v)
}

// SingletState returns |Ψ⁻⟩ = (|01⟩ − |10⟩)/√2 as a density matrix.
func SingletState() Matrix {
	s := 1 / math.Sqrt2
	return Outer([]complex128{0, complex(s, 0), complex(-s, 0), 0})
}

/*
Fidelity returns the Uhlmann fidelity Tr√(√a·b·√a) between two density
matrices, clamped to [0, 1]. It is 1 for identical states and 0 for
orthogonal ones.
*/
func Fidelity(a, b Matrix) float64 {
	a.mustMatch(b)

	sa := a.SqrtPSD()
	inner := sa.Mul(b).Mul(sa).Hermitize()

	var f float64
	for _, lambda := range inner.EigenvaluesHermitian() {
		if lambda > 0 {
			f += math.Sqrt(lambda)
		}
	}

	return math.Min(1, math.Max(0, f))
}

/*
Evolve mixes the current state toward the target:
(1-mix)·current + mix·target. mix is clamped to [0, 1], so the result is a
convex combination and stays a valid density matrix.
*/
func Evolve(current, target Matrix, mix float64) Matrix {
	current.mustMatch(target)
	mix = math.Min(1, math.Max(0, mix))

	return current.Scale(complex(1-mix, 0)).Add(target.Scale(complex(mix, 0)))
}

func normalize(v []complex128) []complex128 {
	var norm float64
	for _, a := range v {
		norm += real(a)*real(a) + imag(a)*imag(a)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] /= complex(norm, 0)
	}
	return v
}
