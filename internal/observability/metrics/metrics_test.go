package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"postbot/pkg/logx"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.PostSubmitted()
	m.PostDecided("approve")
	m.Delivery("send", false)
	m.BroadcastJob(1, 1)
	m.Update("message", 0.1)
	m.Gauge("x", "x", func() float64 { return 1 })
	require.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.PostSubmitted()
	m.PostDecided("approve")
	m.PostDecided("approve")
	m.BroadcastJob(2, 1)
	m.Delivery("edit", false)

	require.Equal(t, 1.0, testutil.ToFloat64(m.postsSubmitted))
	require.Equal(t, 2.0, testutil.ToFloat64(m.postsDecided.WithLabelValues("approve")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.broadcastSends.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.broadcastSends.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("edit", "failed")))
}

func TestServerExposesMetrics(t *testing.T) {
	m := New()
	m.Gauge("sessions", "Open sessions.", func() float64 { return 3 })
	s := NewServer(m, logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, ServerConfig{Enabled: true, Addr: "127.0.0.1:0"})
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "postbot_sessions 3"))

	s.Reconfigure(ctx, ServerConfig{Enabled: false})
	require.Empty(t, s.Addr())
}

func TestServerMountsPprofOnRequest(t *testing.T) {
	s := NewServer(New(), logx.Nop())
	ctx := context.Background()
	s.Reconfigure(ctx, ServerConfig{Enabled: true, Addr: "127.0.0.1:0"})
	defer s.Stop(ctx)
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.Reconfigure(ctx, ServerConfig{Enabled: true, Addr: "127.0.0.1:0", Pprof: true})
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get("http://" + s.Addr() + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
