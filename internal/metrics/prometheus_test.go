package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.RecordCombination("win_rate", OutcomeScored)
	r.RecordCombination("win_rate", OutcomeScored)
	r.RecordCombination("win_rate", OutcomeFailed)
	r.RecordEvents("2330", 3)
	r.RecordDropped("2330", 0)
	r.RecordWinRate("1", 0.75)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.combinations.WithLabelValues("win_rate", OutcomeScored)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.combinations.WithLabelValues("win_rate", OutcomeFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.eventsDetected.WithLabelValues("2330")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.recordsDropped))
	assert.Equal(t, 0.75, testutil.ToFloat64(r.lastWinRate.WithLabelValues("1")))
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordCombination("x", OutcomeNoScore)
		r.RecordSweep("x", 1)
		r.RecordSecurityError("load")
		r.RecordExternal("trainer", 0.1)
	})
	assert.Nil(t, r.Registry())
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordSecurityError("load")
	assert.NotSame(t, a.Registry(), b.Registry())
	assert.Equal(t, 0.0, testutil.ToFloat64(b.securityErrors.WithLabelValues("load")))
}
