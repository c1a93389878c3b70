package stokes

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/shared/testutil"
	"polarcli/pkg/contracts/domain"
)

func TestDeriveProperties_ReferenceSample(t *testing.T) {
	st, err := Forward(rawTable(testutil.ReferenceSample))
	require.NoError(t, err)

	props, err := DeriveProperties(st)
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, props.No)
	assert.InDelta(t, 100, props.DOP[0], 1e-9)
	assert.InDelta(t, 45, props.AzimuthCalculated[0], 1e-9)

	chi := 0.5 * math.Atan(2/math.Sqrt(999)) * radToDeg
	assert.InDelta(t, chi, props.EllipticityAngle[0], 1e-6)
	assert.InDelta(t, math.Tan(chi*degToRad), props.EllipticityRatio[0], 1e-8)
	assert.InDelta(t, 100*math.Sqrt(999.0/1003.0), props.LinearDOP[0], 1e-9)
	assert.InDelta(t, 100*2/math.Sqrt(1003), props.CircularDOP[0], 1e-9)
}

func TestDeriveProperties_SyntheticRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	raw := domain.NewRawSampleTable(1000)
	for i := 0; i < 1000; i++ {
		raw.Append(int64(i+1),
			rng.Float64()*99+1,     // intensity (0, 100]
			rng.Float64()*98+1,     // DOP in (0, 1) as percent
			rng.Float64()*178-89,   // |φ| < 90
			rng.Float64()*39.5+0.5, // PER > 0
		)
	}

	st, err := Forward(raw)
	require.NoError(t, err)
	props, err := DeriveProperties(st)
	require.NoError(t, err)

	for i := 0; i < raw.Len(); i++ {
		assert.InDelta(t, raw.DOP[i]/100, props.DOP[i]/100, 1e-4, "row %d DOP", i)
		assert.InDelta(t, raw.Azimuth[i], props.AzimuthCalculated[i], 1e-4, "row %d azimuth", i)
	}
}

func TestDeriveProperties_PropagatesNaN(t *testing.T) {
	st, err := Forward(rawTable(testutil.Sample{No: 9, Intensity: 50, DOP: 80, Azimuth: 10, PER: -1}))
	require.NoError(t, err)

	props, err := DeriveProperties(st)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, props.No)
	for _, col := range [][]float64{props.DOP, props.AzimuthCalculated, props.EllipticityAngle, props.EllipticityRatio, props.LinearDOP, props.CircularDOP} {
		assert.True(t, math.IsNaN(col[0]))
	}
}

func TestDeriveProperties_UnpolarizedSample(t *testing.T) {
	st, err := Forward(rawTable(testutil.Sample{No: 1, Intensity: 80, DOP: 0, Azimuth: 10, PER: 20}))
	require.NoError(t, err)

	props, err := DeriveProperties(st)
	require.NoError(t, err)
	assert.Equal(t, 0.0, props.DOP[0])
	assert.Equal(t, 0.0, props.EllipticityAngle[0])
	assert.Equal(t, 0.0, props.LinearDOP[0])
	assert.Equal(t, 0.0, props.CircularDOP[0])
}

func TestDeriveProperties_NoData(t *testing.T) {
	_, err := DeriveProperties(nil)
	assert.True(t, errors.Is(err, apperrors.ErrNoData))
}
