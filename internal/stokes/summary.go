package stokes

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	apperrors "polarcli/internal/errors"
	"polarcli/pkg/contracts/domain"
)

// Summarize computes per-parameter statistics for S0–S3 and the deviation
// between the measured DOP fraction and DOP_calculated. A column holding a
// NaN yields NaN statistics.
func Summarize(raw *domain.RawSampleTable, st *domain.StokesTable) (domain.ConversionSummary, error) {
	if raw == nil || st == nil {
		return domain.ConversionSummary{}, apperrors.NewConversionError(apperrors.ReasonNoData, "no stokes parameters computed", nil)
	}

	deviation := make([]float64, st.Len())
	for i := range deviation {
		measured := math.NaN()
		if i < raw.Len() {
			measured = raw.DOP[i] / 100
		}
		deviation[i] = math.Abs(measured - st.DOPCalculated[i])
	}
	devMean, devMax := meanMax(deviation)

	return domain.ConversionSummary{
		Source:           raw.Source.Name,
		Rows:             st.Len(),
		S0:               parameterStats(st.S0),
		S1:               parameterStats(st.S1),
		S2:               parameterStats(st.S2),
		S3:               parameterStats(st.S3),
		DOPDeviationMean: devMean,
		DOPDeviationMax:  devMax,
		DegenerateRows:   st.DegenerateRows,
	}, nil
}

// parameterStats returns mean, population standard deviation, min and max
func parameterStats(values []float64) domain.ParameterStats {
	if len(values) == 0 || floats.HasNaN(values) {
		nan := domain.Float(math.NaN())
		return domain.ParameterStats{Mean: nan, Std: nan, Min: nan, Max: nan}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return domain.ParameterStats{
		Mean: domain.Float(mean),
		Std:  domain.Float(std),
		Min:  domain.Float(floats.Min(values)),
		Max:  domain.Float(floats.Max(values)),
	}
}
