package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytesPerSecondAveragesSamples(t *testing.T) {
	r := New(4, 100, 1000)
	r.Record(500, time.Second)
	r.Record(500, time.Second)

	assert.Equal(t, int64(500), r.BytesPerSecond())
}

func TestRecordEvictsOldestSampleOnceFull(t *testing.T) {
	r := New(2, 0, 1<<62)
	r.Record(1000, time.Second)
	r.Record(1000, time.Second)
	// evicts the first 1000/1s sample
	r.Record(10, time.Second)

	assert.Equal(t, int64(505), r.BytesPerSecond())
}

func TestBytesPerSecondIsZeroBeforeAnySample(t *testing.T) {
	r := New(4, 0, 100)
	assert.Equal(t, int64(0), r.BytesPerSecond())
}

func TestLowReportsBelowWatermark(t *testing.T) {
	r := New(4, 1000, 10000)
	r.Record(10, time.Second)
	assert.True(t, r.Low())
	assert.False(t, r.High())
}

func TestHighReportsAboveWatermark(t *testing.T) {
	r := New(4, 0, 100)
	r.Record(10000, time.Second)
	assert.True(t, r.High())
	assert.False(t, r.Low())
}

func TestBytesPerSecondIgnoresZeroElapsedSamples(t *testing.T) {
	r := New(4, 0, 100)
	r.Record(1000, 0)
	assert.Equal(t, int64(0), r.BytesPerSecond())
}
