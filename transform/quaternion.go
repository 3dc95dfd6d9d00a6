package transform

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PoseMatrix is a 4x4 homogeneous transform: the rotation is in rows and
// columns 0 to 2, the translation in column 3.
type PoseMatrix [4][4]float64

// IdentityPose returns the identity transform.
func IdentityPose() PoseMatrix {
	return PoseMatrix{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// Translation returns column 3.
func (m PoseMatrix) Translation() [3]float64 {
	return [3]float64{m[0][3], m[1][3], m[2][3]}
}

// IsOrthonormal reports whether R*Rᵀ of the rotation block is the identity
// within tol.
func (m PoseMatrix) IsOrthonormal(tol float64) bool {
	r := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	return mat.EqualApprox(&rrt, identity, tol)
}

// Quaternion holds a rotation as (w, x, y, z), scalar first.
type Quaternion [4]float64

// W returns the scalar part.
func (q Quaternion) W() float64 { return q[0] }

// Canonical returns q or -q, whichever has a non-negative scalar part.
func (q Quaternion) Canonical() Quaternion {
	if q[0] < 0 {
		return Quaternion{-q[0], -q[1], -q[2], -q[3]}
	}
	return q
}

// Norm of the quaternion.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

// MatrixToQuaternion returns the rotation of m as a canonical unit quaternion.
//
// With precise set, m must be a proper rotation and the closed form trace
// method is used. Otherwise the quaternion is the eigenvector of the largest
// eigenvalue of the symmetric matrix built from m, which tolerates small
// deviations from orthonormality.
func MatrixToQuaternion(m PoseMatrix, precise bool) (Quaternion, error) {
	if precise {
		return preciseQuaternion(m), nil
	}
	return eigenQuaternion(m)
}

func preciseQuaternion(m PoseMatrix) Quaternion {
	var q [4]float64
	t := m[0][0] + m[1][1] + m[2][2] + m[3][3]
	if t > m[3][3] {
		q = [4]float64{t, m[2][1] - m[1][2], m[0][2] - m[2][0], m[1][0] - m[0][1]}
	} else {
		i, j, k := 0, 1, 2
		if m[1][1] > m[0][0] {
			i, j, k = 1, 2, 0
		}
		if m[2][2] > m[i][i] {
			i, j, k = 2, 0, 1
		}
		t = m[i][i] - (m[j][j] + m[k][k]) + m[3][3]
		var v [4]float64
		v[i] = t
		v[j] = m[i][j] + m[j][i]
		v[k] = m[k][i] + m[i][k]
		v[3] = m[k][j] - m[j][k]
		q = [4]float64{v[3], v[0], v[1], v[2]}
	}
	scale := 0.5 / math.Sqrt(t*m[3][3])
	for i := range q {
		q[i] *= scale
	}
	return Quaternion(q).Canonical()
}

func eigenQuaternion(m PoseMatrix) (Quaternion, error) {
	m00, m01, m02 := m[0][0], m[0][1], m[0][2]
	m10, m11, m12 := m[1][0], m[1][1], m[1][2]
	m20, m21, m22 := m[2][0], m[2][1], m[2][2]
	k := []float64{
		m00 - m11 - m22, m01 + m10, m02 + m20, m21 - m12,
		m01 + m10, m11 - m00 - m22, m12 + m21, m02 - m20,
		m02 + m20, m12 + m21, m22 - m00 - m11, m10 - m01,
		m21 - m12, m02 - m20, m10 - m01, m00 + m11 + m22,
	}
	for i := range k {
		k[i] /= 3
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(4, k), true); !ok {
		return Quaternion{}, errors.New("eigen decomposition of the pose matrix did not converge")
	}
	values := eig.Values(nil)
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	q := Quaternion{
		vectors.At(3, best),
		vectors.At(0, best),
		vectors.At(1, best),
		vectors.At(2, best),
	}
	return q.Canonical(), nil
}

// PoseVector returns (tx, ty, tz, qx, qy, qz, qw) for m, using the precise
// quaternion conversion.
func PoseVector(m PoseMatrix) [7]float64 {
	t := m.Translation()
	q := preciseQuaternion(m)
	return [7]float64{t[0], t[1], t[2], q[1], q[2], q[3], q[0]}
}
