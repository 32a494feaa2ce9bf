package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Mutation(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.Mutation("add", "ok")
	m.Mutation("add", "ok")
	m.Mutation("add", "sold_out")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("add", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("add", "sold_out")))
}

func TestMetrics_Sessions(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestMetrics_Counters(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()), WithNamespace("test"))

	m.ExternalSync()
	m.PublishError(errors.New("broker down"))
	m.CatalogLookup("not_found")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.externalSyncs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.catalogLookups.WithLabelValues("not_found")))
}

func TestMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(WithRegistry(reg))

	assert.Panics(t, func() { New(WithRegistry(reg)) })
}
