package stokes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	apperrors "polarcli/internal/errors"
	"polarcli/pkg/contracts/domain"
)

// DefaultRoundTripTolerance is the absolute tolerance for DOP fractions
// and azimuth degrees
const DefaultRoundTripTolerance = 1e-4

// linearFloor is the linear DOP [%] below which the azimuth is undefined
const linearFloor = 1e-9

// RoundTrip compares the measured DOP and azimuth in raw against the values
// recomputed in props. Rows pair by index. Rows with a NaN on either side
// are skipped, and so is the azimuth of rows without a linear component.
// Azimuths are compared modulo 180°.
func RoundTrip(raw *domain.RawSampleTable, props *domain.PropertyTable, tolerance float64) (*domain.RoundTripReport, error) {
	if raw == nil || props == nil {
		return nil, apperrors.NewConversionError(apperrors.ReasonNoData, "round trip needs samples and derived properties", nil)
	}
	if raw.Len() != len(props.No) {
		return nil, apperrors.NewConversionError(apperrors.ReasonNoData,
			fmt.Sprintf("derived properties have %d rows, samples have %d", len(props.No), raw.Len()), nil)
	}
	if tolerance <= 0 {
		tolerance = DefaultRoundTripTolerance
	}

	report := &domain.RoundTripReport{
		Rows:      raw.Len(),
		Tolerance: tolerance,
		Outliers:  []int64{},
	}

	var dopDev, azDev []float64
	for i := 0; i < raw.Len(); i++ {
		measured, recomputed := raw.DOP[i]/100, props.DOP[i]/100
		if math.IsNaN(measured) || math.IsNaN(recomputed) {
			continue
		}
		report.Compared++

		d := math.Abs(measured - recomputed)
		dopDev = append(dopDev, d)
		outlier := d > tolerance

		if props.LinearDOP[i] > linearFloor && !math.IsNaN(raw.Azimuth[i]) && !math.IsNaN(props.AzimuthCalculated[i]) {
			a := azimuthDistance(raw.Azimuth[i], props.AzimuthCalculated[i])
			azDev = append(azDev, a)
			outlier = outlier || a > tolerance
		}

		if outlier {
			report.Outliers = append(report.Outliers, raw.No[i])
		}
	}

	report.DOPDeviationMean, report.DOPDeviationMax = meanMax(dopDev)
	report.AzimuthDeviationMean, report.AzimuthDeviationMax = meanMax(azDev)
	return report, nil
}

// azimuthDistance returns the distance between two orientations in
// degrees, treating θ and θ+180° as the same axis
func azimuthDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 180)
	return math.Min(d, 180-d)
}

// meanMax returns the mean and maximum of values, NaN for an empty slice or
// when any value is NaN
func meanMax(values []float64) (domain.Float, domain.Float) {
	if len(values) == 0 || floats.HasNaN(values) {
		return domain.Float(math.NaN()), domain.Float(math.NaN())
	}
	return domain.Float(stat.Mean(values, nil)), domain.Float(floats.Max(values))
}
