package metrics

import (
	"fmt"
	"testing"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Inbound(types.ActionCreate, true)
	m.Inbound(types.ActionCreate, true)
	m.Inbound(types.ActionDelete, false)
	m.Transition(nil)
	m.Transition(fmt.Errorf("x: %w", types.ErrInvalidInterval))
	m.Push("sendschedule", 3)
	m.Push("sendschedule", 0)
	m.Delivery(false)
	m.FanoutError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inbound.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues("delete", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("InvalidInterval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pushes.WithLabelValues("sendschedule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fanoutErrs))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inbound(types.ActionUpdate, true)
	m.Transition(nil)
	m.Push("x", 1)
	m.Delivery(true)
	m.FanoutError()
}
