package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"journey-detector/internal/detection"
	"journey-detector/internal/journey"
	"journey-detector/internal/store"
)

var t0 = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

type brokenStore struct {
	*store.Memory
	mu     sync.Mutex
	broken bool
}

func (s *brokenStore) setBroken(b bool) {
	s.mu.Lock()
	s.broken = b
	s.mu.Unlock()
}

func (s *brokenStore) err(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return store.Wrap(op, errors.New("connection refused"))
	}
	return nil
}

func (s *brokenStore) SaveOpenJourney(ctx context.Context, j *journey.Journey) error {
	if err := s.err("save_open"); err != nil {
		return err
	}
	return s.Memory.SaveOpenJourney(ctx, j)
}

func (s *brokenStore) LoadOpenJourney(ctx context.Context) (*journey.Journey, error) {
	if err := s.err("load_open"); err != nil {
		return nil, err
	}
	return s.Memory.LoadOpenJourney(ctx)
}

func (s *brokenStore) LoadArchive(ctx context.Context) ([]*journey.Journey, error) {
	if err := s.err("load_archive"); err != nil {
		return nil, err
	}
	return s.Memory.LoadArchive(ctx)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestApp(t *testing.T) (*fiber.App, *brokenStore, *clock) {
	t.Helper()
	st := &brokenStore{Memory: store.NewMemory()}
	clk := &clock{t: t0}
	m := detection.NewManager(st, nil, detection.WithClock(clk.Now), detection.WithDeviceID("dev1"))
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler(nil)})
	RegisterRoutes(app.Group("/v1"), m)
	return app, st, clk
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestDetectionControl(t *testing.T) {
	app, _, _ := newTestApp(t)

	code, body := do(t, app, http.MethodGet, "/v1/detection", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["detecting"])
	require.Equal(t, "dev1", body["device_id"])

	code, body = do(t, app, http.MethodPost, "/v1/detection/start", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["detecting"])

	code, body = do(t, app, http.MethodPost, "/v1/detection/stop", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["detecting"])
}

func TestStartStorageFailureIs503(t *testing.T) {
	app, st, _ := newTestApp(t)
	st.setBroken(true)
	code, body := do(t, app, http.MethodPost, "/v1/detection/start", "")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Contains(t, body["error"], "storage load_open")
}

func TestSampleFlow(t *testing.T) {
	app, _, clk := newTestApp(t)
	code, _ := do(t, app, http.MethodPost, "/v1/detection/start", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, app, http.MethodGet, "/v1/journeys/current", "")
	require.Equal(t, http.StatusNotFound, code)

	code, body := do(t, app, http.MethodPost, "/v1/samples/activity", `{"kind":"walking","confidence":80,"observed_at":"2025-03-03T08:00:00Z"}`)
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "WALKING", body["last_activity"].(map[string]any)["kind"])
	require.NotNil(t, body["current_journey"])

	for i, lon := range []string{"2.3522", "2.3532", "2.3542"} {
		clk.Set(t0.Add(time.Duration(i+1) * 30 * time.Second))
		code, _ = do(t, app, http.MethodPost, "/v1/samples/location", `{"latitude":48.8566,"longitude":`+lon+`,"accuracy_meters":5}`)
		require.Equal(t, http.StatusAccepted, code)
	}

	code, body = do(t, app, http.MethodGet, "/v1/journeys/current", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 3, body["fix_count"])
	require.Equal(t, "apied", body["transport_type"])
	require.InDelta(t, 146.3, body["distance_meters"], 0.5)

	clk.Set(t0.Add(6 * time.Minute))
	code, body = do(t, app, http.MethodPost, "/v1/detection/stop", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["detecting"])

	req := httptest.NewRequest(http.MethodGet, "/v1/journeys", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var archive []journey.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&archive))
	require.Len(t, archive, 1)
	require.Equal(t, journey.StatusAccepted, archive[0].Status)
	require.Equal(t, 6, archive[0].DurationMinutes)
}

func TestCurrentJourneyUsesManagerClock(t *testing.T) {
	app, _, clk := newTestApp(t)
	do(t, app, http.MethodPost, "/v1/detection/start", "")
	do(t, app, http.MethodPost, "/v1/samples/activity", `{"kind":"cycling","confidence":90}`)

	clk.Set(t0.Add(7 * time.Minute))
	code, current := do(t, app, http.MethodGet, "/v1/journeys/current", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 7, current["duration_minutes"])

	_, status := do(t, app, http.MethodGet, "/v1/detection", "")
	require.Equal(t, current["duration_minutes"], status["current_journey"].(map[string]any)["duration_minutes"])
}

func TestInvalidSamplesAre400(t *testing.T) {
	app, _, _ := newTestApp(t)
	do(t, app, http.MethodPost, "/v1/detection/start", "")

	for _, tc := range []struct{ path, body string }{
		{"/v1/samples/activity", `{"kind":"hovering","confidence":80}`},
		{"/v1/samples/activity", `{"kind":"walking","confidence":-1}`},
		{"/v1/samples/activity", `not json`},
		{"/v1/samples/location", `{"latitude":95,"longitude":0}`},
		{"/v1/samples/location", `{"latitude":1,"longitude":1,"accuracy_meters":-3}`},
	} {
		code, body := do(t, app, http.MethodPost, tc.path, tc.body)
		require.Equal(t, http.StatusBadRequest, code, tc.body)
		require.Contains(t, body["error"], "invalid sample")
	}
}

func TestSampleStorageFailureIs503(t *testing.T) {
	app, st, _ := newTestApp(t)
	do(t, app, http.MethodPost, "/v1/detection/start", "")
	st.setBroken(true)
	code, _ := do(t, app, http.MethodPost, "/v1/samples/activity", `{"kind":"cycling","confidence":90}`)
	require.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = do(t, app, http.MethodGet, "/v1/journeys", "")
	require.Equal(t, http.StatusServiceUnavailable, code)

	st.setBroken(false)
	code, body := do(t, app, http.MethodGet, "/v1/detection", "")
	require.Equal(t, http.StatusOK, code)
	require.Nil(t, body["current_journey"])
}

func TestArchiveOrder(t *testing.T) {
	app, _, clk := newTestApp(t)
	do(t, app, http.MethodPost, "/v1/detection/start", "")

	var ids []string
	for i := 0; i < 2; i++ {
		base := t0.Add(time.Duration(i) * time.Hour)
		clk.Set(base)
		do(t, app, http.MethodPost, "/v1/samples/activity", `{"kind":"running","confidence":90}`)
		do(t, app, http.MethodPost, "/v1/samples/location", `{"latitude":48.8566,"longitude":2.3522}`)
		do(t, app, http.MethodPost, "/v1/samples/location", `{"latitude":48.8566,"longitude":2.3542}`)
		_, body := do(t, app, http.MethodGet, "/v1/journeys/current", "")
		ids = append(ids, body["id"].(string))
		clk.Set(base.Add(5 * time.Minute))
		do(t, app, http.MethodPost, "/v1/detection/stop", "")
		do(t, app, http.MethodPost, "/v1/detection/start", "")
	}

	get := func(path string) []journey.Snapshot {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []journey.Snapshot
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}
	archived := get("/v1/journeys")
	require.Equal(t, ids, []string{archived[0].ID, archived[1].ID})
	recent := get("/v1/journeys?order=recent")
	require.Equal(t, []string{ids[1], ids[0]}, []string{recent[0].ID, recent[1].ID})

	code, _ := do(t, app, http.MethodGet, "/v1/journeys?order=sideways", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestHealth(t *testing.T) {
	st := store.NewMemory()
	app := New(detection.NewManager(st, nil), nil)
	code, body := do(t, app, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}
