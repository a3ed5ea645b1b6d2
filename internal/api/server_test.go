package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/CutoutCam/internal/compositor"
	"github.com/bryanchriswhite/CutoutCam/internal/config"
	"github.com/bryanchriswhite/CutoutCam/internal/engine"
	"github.com/bryanchriswhite/CutoutCam/internal/frame"
	"github.com/bryanchriswhite/CutoutCam/internal/output"
	"github.com/bryanchriswhite/CutoutCam/internal/session"
)

type idleSource struct{}

func (idleSource) Start(context.Context) (<-chan *frame.Frame, error) {
	return nil, errors.New("idle")
}
func (idleSource) Stop() error  { return nil }
func (idleSource) Name() string { return "idle" }

func newTestServer(t *testing.T, mjpeg *output.MJPEGOutput) (*Server, *session.Session, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Output.Width, cfg.Output.Height = 16, 12
	cfg.Presentation.CanvasWidth, cfg.Presentation.CanvasHeight = 16, 12
	cfg.Presentation.OffsetX, cfg.Presentation.OffsetY = 0, 0

	sess, err := session.New(cfg, idleSource{}, engine.NewChromaKey(color.NRGBA{G: 255, A: 255}, 60, 80),
		session.WithClock(clock.NewMock()))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Stop() })

	srv := NewServer(sess, mjpeg)
	srv.statusInterval = time.Hour
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, sess, ts
}

func getJSON(t *testing.T, url string, v interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	_, sess, ts := newTestServer(t, nil)

	var body map[string]string
	getJSON(t, ts.URL+"/api/health", &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, sess.ID(), body["session"])
}

func TestStatusEndpoints(t *testing.T) {
	_, sess, ts := newTestServer(t, nil)

	var status map[string]interface{}
	getJSON(t, ts.URL+"/api/status", &status)
	assert.Equal(t, sess.ID(), status["id"])
	assert.Equal(t, "chromakey", status["engine"])

	var state map[string]interface{}
	getJSON(t, ts.URL+"/api/state", &state)
	assert.Equal(t, "pending", state["state"])

	var stats map[string]interface{}
	getJSON(t, ts.URL+"/api/stats", &stats)
	assert.Contains(t, stats, "submitted")

	var cfg config.Config
	getJSON(t, ts.URL+"/api/config", &cfg)
	assert.Equal(t, 16, cfg.Output.Width)
	assert.Equal(t, 128, cfg.Compositor.AlphaThreshold)
}

func TestSnapshot(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/snapshot.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-Surface-Version"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(16, 12), img.Bounds().Size())
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "nothing composited yet")
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cutoutcam_revealed 0")
}

func TestIndex(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMJPEGRoutes(t *testing.T) {
	mjpeg := output.NewMJPEGOutput(output.Config{Width: 16, Height: 12, FPS: 10})
	require.NoError(t, mjpeg.Start())
	defer mjpeg.Stop()
	_, _, ts := newTestServer(t, mjpeg)

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	_, sess, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)

	// subscribed before the first status was written
	sess.Controller().OnComposite(compositor.Result{Outcome: compositor.Composited, Seq: 7})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "transition", msg.Type)

	var ev struct {
		State string `json:"state"`
		Phase string `json:"phase"`
		Seq   uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "revealed", ev.State)
	assert.Equal(t, "revealed", ev.Phase)
	assert.Equal(t, uint64(7), ev.Seq)
}

func TestEventsClosedOnStop(t *testing.T) {
	_, sess, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	require.NoError(t, sess.Stop())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
