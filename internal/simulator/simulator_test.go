package simulator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/vm-scaling/internal/loadgen"
	"github.com/OldStager01/vm-scaling/internal/logparse"
	"github.com/OldStager01/vm-scaling/internal/simulator"
	"github.com/OldStager01/vm-scaling/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testClock is a mutable Now source shared with the session registry.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestServer(t *testing.T, clock *testClock) (*simulator.Server, *httptest.Server) {
	t.Helper()
	sim := simulator.New(simulator.Config{
		Session: simulator.SessionConfig{
			Duration:  2 * time.Minute,
			WorkerRPS: 30,
			Decay:     0.8,
			Rampup:    10 * time.Second,
			Now:       clock.Now,
		},
	})
	server := httptest.NewServer(sim.Router())
	t.Cleanup(server.Close)
	return sim, server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return resp.StatusCode, b.String()
}

func TestStartSession_BodyCarriesLogName(t *testing.T) {
	_, server := newTestServer(t, newTestClock())

	status, body := get(t, server.URL+"/test/horizontal?dns=ws-1.example.com")
	require.Equal(t, http.StatusOK, status)

	logID, err := logparse.TestID(body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(logID, ".log"))
}

func TestStartSession_MissingDNS(t *testing.T) {
	_, server := newTestServer(t, newTestClock())

	status, _ := get(t, server.URL+"/warmup")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAddWorker(t *testing.T) {
	sim, server := newTestServer(t, newTestClock())

	// No running session yet.
	status, _ := get(t, server.URL+"/test/horizontal/add?dns=ws-2.example.com")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = get(t, server.URL+"/test/horizontal?dns=ws-1.example.com")
	require.Equal(t, http.StatusOK, status)

	status, _ = get(t, server.URL+"/test/horizontal/add?dns=ws-2.example.com")
	assert.Equal(t, http.StatusOK, status)

	// The same backend cannot join twice.
	status, _ = get(t, server.URL+"/test/horizontal/add?dns=ws-2.example.com")
	assert.Equal(t, http.StatusConflict, status)

	session, err := sim.Registry().Active()
	require.NoError(t, err)
	assert.Equal(t, 2, session.WorkerCount())
}

func TestRenderLog(t *testing.T) {
	clock := newTestClock()
	sim, server := newTestServer(t, clock)

	status, body := get(t, server.URL+"/autoscaling?dns=lb.example.com")
	require.Equal(t, http.StatusOK, status)
	logID, err := logparse.TestID(body)
	require.NoError(t, err)

	status, _ = get(t, server.URL+"/log?name=no-such.log")
	assert.Equal(t, http.StatusNotFound, status)

	clock.Advance(30 * time.Second)
	status, report := get(t, server.URL+"/log?name="+logID)
	require.Equal(t, http.StatusOK, status)

	assert.False(t, logparse.Finished(report))
	rps, ok := logparse.CurrentRPS(report)
	require.True(t, ok)
	assert.InDelta(t, 30, rps, 0.5)

	// Past the configured duration the finished marker appears.
	clock.Advance(2 * time.Minute)
	_, report = get(t, server.URL+"/log?name="+logID)
	assert.True(t, logparse.Finished(report))

	session, ok := sim.Registry().Get(logID)
	require.True(t, ok)
	assert.Equal(t, models.ModeAutoscaling, session.Mode)
}

func TestRPSModel_DiminishingReturns(t *testing.T) {
	clock := newTestClock()
	registry := simulator.NewRegistry(simulator.SessionConfig{
		WorkerRPS: 30,
		Decay:     0.8,
		Rampup:    10 * time.Second,
		Now:       clock.Now,
	})
	session := registry.Start(models.ModeHorizontal, "ws-1")

	clock.Advance(time.Minute)
	single := session.CurrentRPS(clock.Now())
	assert.InDelta(t, 30, single, 0.01)

	require.NoError(t, session.AddWorker("ws-2"))
	clock.Advance(time.Minute)
	double := session.CurrentRPS(clock.Now())

	assert.Greater(t, double, single)
	assert.Less(t, double, 2*single)
	assert.InDelta(t, 54, double, 0.01)
}

func TestRPSModel_RampUp(t *testing.T) {
	clock := newTestClock()
	registry := simulator.NewRegistry(simulator.SessionConfig{
		WorkerRPS: 30,
		Decay:     0.8,
		Rampup:    10 * time.Second,
		Now:       clock.Now,
	})
	session := registry.Start(models.ModeHorizontal, "ws-1")

	clock.Advance(5 * time.Second)
	assert.InDelta(t, 15, session.CurrentRPS(clock.Now()), 0.01)
}

func TestLoadGenClientRoundTrip(t *testing.T) {
	clock := newTestClock()
	_, server := newTestServer(t, clock)

	client := loadgen.NewClient(loadgen.Config{
		DNS:  strings.TrimPrefix(server.URL, "http://"),
		Sink: loadgen.FileSink{Dir: t.TempDir()},
	})

	session, err := client.StartTest(context.Background(), models.ModeHorizontal, "ws-1.example.com")
	require.NoError(t, err)

	require.NoError(t, client.AddWorker(context.Background(), session.Mode, "ws-2.example.com"))

	clock.Advance(30 * time.Second)
	sample, err := client.CurrentRPS(context.Background(), session.LogID)
	require.NoError(t, err)
	assert.Greater(t, sample.RPS, 30.0)

	done, err := client.Completed(context.Background(), session.LogID)
	require.NoError(t, err)
	assert.False(t, done)

	clock.Advance(3 * time.Minute)
	done, err = client.Completed(context.Background(), session.LogID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWebsocketFeed(t *testing.T) {
	_, server := newTestServer(t, newTestClock())

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the hub a beat to register the client before publishing.
	time.Sleep(50 * time.Millisecond)

	status, _ := get(t, server.URL+"/test/horizontal?dns=ws-1.example.com")
	require.Equal(t, http.StatusOK, status)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type    string `json:"type"`
		TestID  string `json:"test_id"`
		Workers int    `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, string(models.EventTypeTestStarted), event.Type)
	assert.Equal(t, 1, event.Workers)
}
