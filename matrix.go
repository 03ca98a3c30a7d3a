package qlink

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

/*
Matrix is a dense square complex matrix stored in row-major order.
It only carries the handful of operations the density-matrix engine needs;
it is not a general linear algebra package.
*/
type Matrix struct {
	n    int
	data []complex128
}

// NewMatrix returns the n×n zero matrix.
func NewMatrix(n int) Matrix {
	return Matrix{n: n, data: make([]complex128, n*n)}
}

// identity returns the n×n identity matrix.
func identity(n int) Matrix {
	m := NewMatrix(n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Outer returns the projector |v⟩⟨v|.
func Outer(v []complex128) Matrix {
	m := NewMatrix(len(v))
	for i, a := range v {
		for j, b := range v {
			m.Set(i, j, a*cmplx.Conj(b))
		}
	}
	return m
}

// Dim returns the dimension of the matrix.
func (m Matrix) Dim() int { return m.n }

// At and Set address entry (i, j). Set writes through to shared storage.
func (m Matrix) At(i, j int) complex128 { return m.data[i*m.n+j] }

func (m Matrix) Set(i, j int, v complex128) { m.data[i*m.n+j] = v }

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	c := NewMatrix(m.n)
	copy(c.data, m.data)
	return c
}

func (m Matrix) mustMatch(o Matrix) {
	if m.n != o.n {
		panic(fmt.Sprintf("qlink: dimension mismatch %d != %d", m.n, o.n))
	}
}

// Add returns m + o.
func (m Matrix) Add(o Matrix) Matrix {
	m.mustMatch(o)
	r := NewMatrix(m.n)
	for i := range m.data {
		r.data[i] = m.data[i] + o.data[i]
	}
	return r
}

// Scale returns s·m.
func (m Matrix) Scale(s complex128) Matrix {
	r := NewMatrix(m.n)
	for i := range m.data {
		r.data[i] = s * m.data[i]
	}
	return r
}

// Mul returns the matrix product m·o.
func (m Matrix) Mul(o Matrix) Matrix {
	m.mustMatch(o)
	r := NewMatrix(m.n)
	for i := 0; i < m.n; i++ {
		for k := 0; k < m.n; k++ {
			a := m.At(i, k)
			if a == 0 {
				continue
			}
			for j := 0; j < m.n; j++ {
				r.data[i*m.n+j] += a * o.At(k, j)
			}
		}
	}
	return r
}

// Adjoint returns the conjugate transpose.
func (m Matrix) Adjoint() Matrix {
	r := NewMatrix(m.n)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			r.Set(j, i, cmplx.Conj(m.At(i, j)))
		}
	}
	return r
}

func (m Matrix) trace() complex128 {
	var t complex128
	for i := 0; i < m.n; i++ {
		t += m.At(i, i)
	}
	return t
}

// Kron returns the tensor product m ⊗ o.
func (m Matrix) Kron(o Matrix) Matrix {
	n := m.n * o.n
	r := NewMatrix(n)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			a := m.At(i, j)
			for k := 0; k < o.n; k++ {
				for l := 0; l < o.n; l++ {
					r.Set(i*o.n+k, j*o.n+l, a*o.At(k, l))
				}
			}
		}
	}
	return r
}

// Hermitize returns (m + m†)/2, removing rounding asymmetry.
func (m Matrix) Hermitize() Matrix {
	return m.Add(m.Adjoint()).Scale(0.5)
}

// Equal reports whether every entry of m and o is within tol.
func (m Matrix) Equal(o Matrix, tol float64) bool {
	if m.n != o.n {
		return false
	}
	for i := range m.data {
		if cmplx.Abs(m.data[i]-o.data[i]) > tol {
			return false
		}
	}
	return true
}

/*
EigenvaluesHermitian returns the eigenvalues of a Hermitian matrix in
ascending order. The matrix is embedded as the real symmetric matrix
[[A, -B], [B, A]] for m = A + iB, whose spectrum is the spectrum of m with
every eigenvalue doubled; the duplicates are folded back out.
*/
func (m Matrix) EigenvaluesHermitian() []float64 {
	vals, _ := jacobiEigen(m.realEmbedding())
	sort.Float64s(vals)
	out := make([]float64, 0, m.n)
	for i := 0; i < len(vals); i += 2 {
		out = append(out, (vals[i]+vals[i+1])/2)
	}
	return out
}

/*
SqrtPSD returns the principal square root of a Hermitian positive
semi-definite matrix. Small negative eigenvalues produced by rounding are
clamped to zero.
*/
func (m Matrix) SqrtPSD() Matrix {
	vals, vecs := jacobiEigen(m.realEmbedding())
	size := len(vals)

	root := make([][]float64, size)
	for i := range root {
		root[i] = make([]float64, size)
	}
	for k, lambda := range vals {
		s := math.Sqrt(math.Max(lambda, 0))
		if s == 0 {
			continue
		}
		for i := 0; i < size; i++ {
			vik := vecs[i][k] * s
			if vik == 0 {
				continue
			}
			for j := 0; j < size; j++ {
				root[i][j] += vik * vecs[j][k]
			}
		}
	}

	r := NewMatrix(m.n)
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			r.Set(i, j, complex(root[i][j], root[i+m.n][j]))
		}
	}
	return r
}

func (m Matrix) realEmbedding() [][]float64 {
	size := 2 * m.n
	e := make([][]float64, size)
	for i := range e {
		e[i] = make([]float64, size)
	}
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			a, b := real(m.At(i, j)), imag(m.At(i, j))
			e[i][j] = a
			e[i+m.n][j+m.n] = a
			e[i][j+m.n] = -b
			e[i+m.n][j] = b
		}
	}
	return e
}

// jacobiEigen diagonalizes a real symmetric matrix in place using cyclic
// Jacobi rotations. Columns of vecs are the eigenvectors.
func jacobiEigen(a [][]float64) (vals []float64, vecs [][]float64) {
	n := len(a)
	vecs = make([][]float64, n)
	for i := range vecs {
		vecs[i] = make([]float64, n)
		vecs[i][i] = 1
	}

	for sweep := 0; sweep < 64; sweep++ {
		var off float64
		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				off += a[p][q] * a[p][q]
			}
		}
		if off < 1e-30 {
			break
		}

		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				if a[p][q] == 0 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * a[p][q])
				t := 1 / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				if theta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				for k := 0; k < n; k++ {
					akp, akq := a[k][p], a[k][q]
					a[k][p] = c*akp - s*akq
					a[k][q] = s*akp + c*akq
				}
				for k := 0; k < n; k++ {
					apk, aqk := a[p][k], a[q][k]
					a[p][k] = c*apk - s*aqk
					a[q][k] = s*apk + c*aqk
				}
				for k := 0; k < n; k++ {
					vkp, vkq := vecs[k][p], vecs[k][q]
					vecs[k][p] = c*vkp - s*vkq
					vecs[k][q] = s*vkp + c*vkq
				}
			}
		}
	}

	vals = make([]float64, n)
	for i := range vals {
		vals[i] = a[i][i]
	}
	return vals, vecs
}
