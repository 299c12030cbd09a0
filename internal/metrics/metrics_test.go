package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "AlreadyRegisteredError must be tolerated")

	KeyRotations.WithLabelValues("ok").Inc()
	n, err := testutil.GatherAndCount(reg, "keyrelay_key_rotations_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestRegister_ConflictingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	// mismo nombre, distinto tipo/labels
	clash := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tokens_issued_total"})
	require.NoError(t, reg.Register(clash))
	assert.Error(t, Register(reg))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(TokenValidations.WithLabelValues("token_expired"))
	TokenValidations.WithLabelValues("token_expired").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(TokenValidations.WithLabelValues("token_expired")))

	before = testutil.ToFloat64(ResolverLookups.WithLabelValues("negative"))
	ResolverLookups.WithLabelValues("negative").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(ResolverLookups.WithLabelValues("negative")))
}

func TestObservePublish(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(KeyPublishSeconds))

	ObservePublish(time.Now().Add(-5 * time.Millisecond))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	h := mfs[0].GetMetric()[0].GetHistogram()
	assert.GreaterOrEqual(t, h.GetSampleCount(), uint64(1))
	assert.Greater(t, h.GetSampleSum(), 0.0)
}
