package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestUpstreamRequests_Labels(t *testing.T) {
	before := testutil.ToFloat64(UpstreamRequests.WithLabelValues("fec", "done"))
	UpstreamRequests.WithLabelValues("fec", "done").Inc()
	after := testutil.ToFloat64(UpstreamRequests.WithLabelValues("fec", "done"))

	assert.Equal(t, before+1, after)
}

func TestIndexedCandidates_Set(t *testing.T) {
	IndexedCandidates.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(IndexedCandidates))
}
