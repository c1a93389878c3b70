package ingest

import (
	"fmt"

	"github.com/saintfish/chardet"
)

// Detection is the outcome of statistical charset detection
type Detection struct {
	Charset    string
	Language   string
	Confidence float64 // 0..1
}

// Detector guesses the charset of raw bytes
type Detector interface {
	Detect(data []byte) (Detection, error)
}

// ChardetDetector is the default Detector backed by ICU-style heuristics
type ChardetDetector struct {
	detector *chardet.Detector
}

// NewChardetDetector creates a text detector
func NewChardetDetector() *ChardetDetector {
	return &ChardetDetector{detector: chardet.NewTextDetector()}
}

// Detect returns the best guess for data
func (d *ChardetDetector) Detect(data []byte) (Detection, error) {
	res, err := d.detector.DetectBest(data)
	if err != nil {
		return Detection{}, fmt.Errorf("charset detection failed: %w", err)
	}
	return Detection{
		Charset:    res.Charset,
		Language:   res.Language,
		Confidence: float64(res.Confidence) / 100,
	}, nil
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(data []byte) (Detection, error)

// Detect calls f
func (f DetectorFunc) Detect(data []byte) (Detection, error) {
	return f(data)
}
