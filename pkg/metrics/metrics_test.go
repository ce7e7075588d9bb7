package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues("TRAY", "checkout", "ok"))
	ObserveOperation("TRAY", "checkout", "ok", time.Now().Add(-10*time.Millisecond))
	after := testutil.ToFloat64(OperationsTotal.WithLabelValues("TRAY", "checkout", "ok"))
	assert.Equal(t, before+1, after)
}

func TestAddHistoryEntriesSkipsZero(t *testing.T) {
	c := HistoryEntriesTotal.WithLabelValues("TRAY")
	before := testutil.ToFloat64(c)
	AddHistoryEntries("TRAY", 0)
	assert.Equal(t, before, testutil.ToFloat64(c))
	AddHistoryEntries("TRAY", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(c))
}

func TestObserveCycle(t *testing.T) {
	c := CyclesTotal.WithLabelValues("TRAY", "out", "NG")
	before := testutil.ToFloat64(c)
	ObserveCycle("TRAY", "out", "NG")
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
