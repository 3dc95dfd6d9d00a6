package transform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rotationFromQuaternion builds the pose matrix of a unit quaternion (w, x, y, z).
func rotationFromQuaternion(q Quaternion, tx, ty, tz float64) PoseMatrix {
	w, x, y, z := q[0], q[1], q[2], q[3]
	return PoseMatrix{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w), tx},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w), ty},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y), tz},
		{0, 0, 0, 1},
	}
}

// requireSameRotation compares quaternions, accepting the sign ambiguity left
// when the scalar part is zero.
func requireSameRotation(t *testing.T, want, got Quaternion) {
	t.Helper()
	dot := 0.0
	for i := range want {
		dot += want[i] * got[i]
	}
	require.InDelta(t, 1, math.Abs(dot), 1e-9, "want %v, got %v", want, got)
	require.GreaterOrEqual(t, got.W(), 0.0)
}

func TestMatrixToQuaternion_Identity(t *testing.T) {
	for _, precise := range []bool{true, false} {
		q, err := MatrixToQuaternion(IdentityPose(), precise)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{1, 0, 0, 0}, q[:], 1e-12, "precise=%v", precise)
	}
}

func TestMatrixToQuaternion_HalfTurns(t *testing.T) {
	tests := []struct {
		name string
		m    PoseMatrix
		want Quaternion
	}{
		{"x", PoseMatrix{{1, 0, 0, 0}, {0, -1, 0, 0}, {0, 0, -1, 0}, {0, 0, 0, 1}}, Quaternion{0, 1, 0, 0}},
		{"y", PoseMatrix{{-1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, -1, 0}, {0, 0, 0, 1}}, Quaternion{0, 0, 1, 0}},
		{"z", PoseMatrix{{-1, 0, 0, 0}, {0, -1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}, Quaternion{0, 0, 0, 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := MatrixToQuaternion(tc.m, true)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tc.want[:], q[:], 1e-12)

			q, err = MatrixToQuaternion(tc.m, false)
			require.NoError(t, err)
			requireSameRotation(t, tc.want, q)
		})
	}
}

func TestMatrixToQuaternion_QuarterTurnZ(t *testing.T) {
	m := PoseMatrix{{0, -1, 0, 0}, {1, 0, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	q, err := MatrixToQuaternion(m, true)
	require.NoError(t, err)
	s := math.Sqrt2 / 2
	assert.InDeltaSlice(t, []float64{s, 0, 0, s}, q[:], 1e-12)
	assert.InDelta(t, 1, q.Norm(), 1e-12)
}

func TestMatrixToQuaternion_RandomRotations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		want := Quaternion{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		n := want.Norm()
		for j := range want {
			want[j] /= n
		}
		want = want.Canonical()
		m := rotationFromQuaternion(want, rng.Float64(), rng.Float64(), rng.Float64())
		require.True(t, m.IsOrthonormal(1e-9))

		precise, err := MatrixToQuaternion(m, true)
		require.NoError(t, err)
		requireSameRotation(t, want, precise)

		eigen, err := MatrixToQuaternion(m, false)
		require.NoError(t, err)
		requireSameRotation(t, want, eigen)
	}
}

func TestQuaternion_Canonical(t *testing.T) {
	q := Quaternion{-0.5, 0.5, -0.5, 0.5}.Canonical()
	assert.Equal(t, Quaternion{0.5, -0.5, 0.5, -0.5}, q)
	assert.Equal(t, q, q.Canonical())
}

func TestPoseVector(t *testing.T) {
	m := PoseMatrix{{0, -1, 0, 1}, {1, 0, 0, 2}, {0, 0, 1, 3}, {0, 0, 0, 1}}
	s := math.Sqrt2 / 2
	got := PoseVector(m)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 0, 0, s, s}, got[:], 1e-12)
}

func TestPoseMatrix_IsOrthonormal(t *testing.T) {
	assert.True(t, IdentityPose().IsOrthonormal(1e-12))
	scaled := IdentityPose()
	scaled[0][0] = 2
	assert.False(t, scaled.IsOrthonormal(1e-6))
	sheared := IdentityPose()
	sheared[0][1] = 0.1
	assert.False(t, sheared.IsOrthonormal(1e-6))
}
