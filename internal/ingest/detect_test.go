package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChardetDetector(t *testing.T) {
	text := strings.Repeat("偏振分析仪测量数据导出 φ [°] 强度 偏振度\n", 20)

	det, err := NewChardetDetector().Detect([]byte(text))
	require.NoError(t, err)
	assert.NotEmpty(t, det.Charset)
	assert.Greater(t, det.Confidence, 0.0)
	assert.LessOrEqual(t, det.Confidence, 1.0)
	assert.True(t, Supported(det.Charset), "detected charset %q has no decoder", det.Charset)
}

func TestDetectorFunc(t *testing.T) {
	d := DetectorFunc(func(data []byte) (Detection, error) {
		return Detection{Charset: "utf-8", Confidence: float64(len(data)) / 10}, nil
	})
	det, err := d.Detect([]byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, det.Confidence)
}
