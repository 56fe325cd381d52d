package build

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, float64(0), m.SuccessRate())

	m.Record(10*time.Millisecond, nil)
	m.Record(30*time.Millisecond, fmt.Errorf("boom"))

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Total)
	assert.Equal(t, int64(1), s.Succeeded)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, 20*time.Millisecond, s.AverageDuration)
	assert.EqualError(t, s.LastError, "boom")
	assert.Equal(t, float64(50), m.SuccessRate())
}

func TestSummaryLogFields(t *testing.T) {
	fields := Summary{Total: 1, Succeeded: 1}.LogFields()
	assert.Len(t, fields, 10)
	assert.Equal(t, "success_rate", fields[6])
	assert.Equal(t, float64(100), fields[7])

	fields = Summary{Total: 1, Failed: 1, LastError: fmt.Errorf("bad")}.LogFields()
	assert.Equal(t, []interface{}{"last_error", "bad"}, fields[len(fields)-2:])
}

func TestMetricsConcurrentRecord(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(time.Millisecond, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Snapshot().Total)
}
