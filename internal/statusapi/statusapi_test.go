package statusapi

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/timesyncd/internal/clock"
	"github.com/edgeflow/timesyncd/internal/nmea"
)

type fakeClock struct{ now clock.Micros }

func (c *fakeClock) Now() clock.Micros { return c.now }

type fakeDiscipline struct {
	utc      int64
	stratum  uint8
	refID    uint32
	lastSync clock.Micros
}

func (d *fakeDiscipline) UTCMicros() int64                { return d.utc }
func (d *fakeDiscipline) Stratum() uint8                  { return d.stratum }
func (d *fakeDiscipline) ReferenceID() uint32              { return d.refID }
func (d *fakeDiscipline) LastSyncMonotonic() clock.Micros  { return d.lastSync }

type fakeGPS struct {
	fix nmea.Fix
	ok  bool
	sat uint8
}

func (g *fakeGPS) Location(clock.Micros) (nmea.Fix, bool) { return g.fix, g.ok }
func (g *fakeGPS) SatCount() uint8                        { return g.sat }

type fakeSNTPClient struct{ stddev float64 }

func (c *fakeSNTPClient) OffsetStdDevSeconds() float64 { return c.stddev }

// sharedMetrics is created once: promauto registers against the default
// registry, and a second NewMetrics call in the same test binary would
// panic on a duplicate collector registration.
var (
	sharedMetrics     *Metrics
	sharedMetricsOnce sync.Once
)

func newTestAPI() (*API, *fakeDiscipline, *fakeGPS) {
	sharedMetricsOnce.Do(func() { sharedMetrics = NewMetrics() })
	disc := &fakeDiscipline{utc: 1_700_000_000_000_000, stratum: 1, refID: 0x47505300, lastSync: 900_000}
	gps := &fakeGPS{fix: nmea.Fix{Lat: 37.7749, Lon: -122.4194, Alt: 10, SatCount: 9}, ok: true, sat: 9}
	client := &fakeSNTPClient{stddev: 0.002}
	clk := &fakeClock{now: 1_000_000}
	return New(disc, gps, client, clk, sharedMetrics), disc, gps
}

func TestHealthz(t *testing.T) {
	api, _, _ := newTestAPI()
	app := fiber.New()
	api.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestStatusReportsStratumAndAge(t *testing.T) {
	api, _, _ := newTestAPI()
	app := fiber.New()
	api.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, float64(1), payload["stratum"])
	assert.Equal(t, float64(9), payload["sat_count"])
}

func TestGPSReturnsFixWhenAvailable(t *testing.T) {
	api, _, _ := newTestAPI()
	app := fiber.New()
	api.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/gps", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.InDelta(t, 37.7749, payload["lat"], 1e-6)
}

func TestGPSWithDistanceQuery(t *testing.T) {
	api, _, _ := newTestAPI()
	app := fiber.New()
	api.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/gps?to=34.0522,-118.2437", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Greater(t, payload["distance_meters"], float64(500_000))
}

func TestGPSUnavailableWhenNoFix(t *testing.T) {
	api, _, gps := newTestAPI()
	gps.ok = false
	app := fiber.New()
	api.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/gps", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestGPSRejectsMalformedToQuery(t *testing.T) {
	api, _, _ := newTestAPI()
	app := fiber.New()
	api.Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/gps?to=not-a-coord", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
