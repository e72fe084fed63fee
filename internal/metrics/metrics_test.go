package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New(func() int { return 3 }, func() int { return 5 })
	m.Received("offer")
	m.Forwarded("offer", 2)
	m.Dropped(DropNoTarget)
	m.ConnOpened("ws")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `camrelay_messages_received_total{type="offer"} 1`)
	assert.Contains(t, out, `camrelay_messages_forwarded_total{type="offer"} 2`)
	assert.Contains(t, out, `camrelay_messages_dropped_total{reason="no_target"} 1`)
	assert.Contains(t, out, `camrelay_connections{transport="ws"} 1`)
	assert.Contains(t, out, "camrelay_sessions 3")
	assert.Contains(t, out, "camrelay_registrations 5")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Received("offer")
	m.Forwarded("offer", 1)
	m.Dropped(DropInvalid)
	m.ConnOpened("poll")
	m.ConnClosed("poll")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
