package stokes

import (
	"math"

	"gonum.org/v1/gonum/floats"

	apperrors "polarcli/internal/errors"
	"polarcli/pkg/contracts/domain"
)

// asinGuard keeps the ellipticity argument finite for unpolarized rows
const asinGuard = 1e-10

// DeriveProperties recomputes polarization properties from Stokes vectors:
//
//	DOP        = sqrt(S1²+S2²+S3²) / S0
//	azimuth    = atan2(S2, S1) / 2
//	ellipticity = asin(S3 / (S0·DOP + 1e-10)) / 2
//	ratio      = tan(ellipticity)
//	linear DOP = sqrt(S1²+S2²) / S0
//	circular   = |S3| / S0
//
// Angles are returned in degrees and DOP values in percent.
func DeriveProperties(st *domain.StokesTable) (*domain.PropertyTable, error) {
	if st == nil {
		return nil, apperrors.NewConversionError(apperrors.ReasonNoData, "no stokes parameters computed", nil)
	}

	n := st.Len()
	dop := degreeOfPolarization(st.S0, st.S1, st.S2, st.S3)

	azimuth := make([]float64, n)
	ellipticity := make([]float64, n)
	ratio := make([]float64, n)
	linear := make([]float64, n)
	circular := make([]float64, n)

	for i := 0; i < n; i++ {
		s0, s1, s2, s3 := st.S0[i], st.S1[i], st.S2[i], st.S3[i]

		azimuth[i] = 0.5 * (math.Atan2(s2, s1) * radToDeg)
		ellipticity[i] = 0.5 * (math.Asin(s3/(s0*dop[i]+asinGuard)) * radToDeg)
		ratio[i] = math.Tan(ellipticity[i] * degToRad)
		linear[i] = math.Sqrt(s1*s1+s2*s2) / s0 * 100
		circular[i] = math.Abs(s3) / s0 * 100
	}

	return &domain.PropertyTable{
		No:                append([]int64(nil), st.No...),
		DOP:               floats.ScaleTo(make([]float64, n), 100, dop),
		AzimuthCalculated: azimuth,
		EllipticityAngle:  ellipticity,
		EllipticityRatio:  ratio,
		LinearDOP:         linear,
		CircularDOP:       circular,
	}, nil
}
