package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rzbill/oplogd/internal/oplog"
	"github.com/rzbill/oplogd/internal/retention"
	pebblestore "github.com/rzbill/oplogd/internal/storage/pebble"
	"github.com/rzbill/oplogd/pkg/optime"
	"github.com/stretchr/testify/require"
)

var (
	_ retention.Observer      = (*Node)(nil)
	_ pebblestore.MetricsHook = (*Node)(nil)
)

func TestNodeMetrics(t *testing.T) {
	m := New()
	n := m.Node("primary")

	n.ObserveBoundary(retention.Boundary{
		TS:           optime.New(12, 7),
		Floor:        optime.New(10, 1),
		HasFloor:     true,
		CheckpointTS: optime.New(30, 2),
		Pinned:       true,
		MaxBytes:     4096,
	}, optime.New(10, 1))
	n.ObserveTruncation(oplog.DeleteResult{Deleted: 3, Bytes: 300})
	n.ObserveTruncation(oplog.DeleteResult{Deleted: 2, Bytes: 200})
	n.ObserveFailure()
	n.SetLog(8192, 40)
	n.SetPrepared(1)
	n.ObserveBatchCommit(time.Millisecond, 2, 64)

	require.Equal(t, 12.0, testutil.ToFloat64(m.boundary.WithLabelValues("primary")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.boundaryInc.WithLabelValues("primary")))
	require.Equal(t, 10.0, testutil.ToFloat64(m.enforced.WithLabelValues("primary")))
	require.Equal(t, 10.0, testutil.ToFloat64(m.floor.WithLabelValues("primary")))
	require.Equal(t, 30.0, testutil.ToFloat64(m.checkpointTS.WithLabelValues("primary")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pinned.WithLabelValues("primary")))
	require.Equal(t, 4096.0, testutil.ToFloat64(m.maxBytes.WithLabelValues("primary")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.truncated.WithLabelValues("primary")))
	require.Equal(t, 500.0, testutil.ToFloat64(m.truncBytes.WithLabelValues("primary")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.truncFails.WithLabelValues("primary")))
	require.Equal(t, 8192.0, testutil.ToFloat64(m.sizeBytes.WithLabelValues("primary")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.prepared.WithLabelValues("primary")))

	n.ObserveBoundary(retention.Boundary{}, optime.New(12, 1))
	require.Zero(t, testutil.ToFloat64(m.floor.WithLabelValues("primary")))
	require.Zero(t, testutil.ToFloat64(m.pinned.WithLabelValues("primary")))
}

func TestHandlerExposesSeries(t *testing.T) {
	m := New()
	m.Node("s1").SetLog(1, 1)
	m.ObserveRequest("GET", "/v1/status", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `oplog_size_bytes{node="s1"} 1`))
	require.True(t, strings.Contains(body, "oplogd_http_request_duration_seconds"))
}
