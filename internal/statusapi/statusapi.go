// Package statusapi exposes a small read-only HTTP front panel over the
// discipline engine and GPS parser: /status, /gps, /healthz, /metrics.
// It is not the full front panel spec.md §1 mentions as an out-of-scope
// collaborator, just the minimal read surface that collaborator needs.
package statusapi

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/edgeflow/timesyncd/internal/clock"
	"github.com/edgeflow/timesyncd/internal/nmea"
)

// Discipline is the subset of discipline.Engine the API reads.
type Discipline interface {
	UTCMicros() int64
	Stratum() uint8
	ReferenceID() uint32
	LastSyncMonotonic() clock.Micros
}

// GPS is the subset of nmea.Parser the API reads.
type GPS interface {
	Location(now clock.Micros) (nmea.Fix, bool)
	SatCount() uint8
}

// SNTPClient is the subset of sntpclient.Client the API reads.
type SNTPClient interface {
	OffsetStdDevSeconds() float64
}

// Metrics holds the process's prometheus collectors, registered once
// at construction, following facebook-time's promauto usage.
type Metrics struct {
	stratum      prometheus.Gauge
	lastSyncAge  prometheus.Gauge
	gpsSatCount  prometheus.Gauge
	offsetStdDev prometheus.Gauge
	transactions *prometheus.CounterVec
}

// NewMetrics registers the timesyncd_* collectors against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		stratum: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "timesyncd_stratum",
			Help: "Current discipline engine stratum (16 = unsynchronized).",
		}),
		lastSyncAge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "timesyncd_last_sync_age_seconds",
			Help: "Seconds since the discipline engine last accepted an update.",
		}),
		gpsSatCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "timesyncd_gps_sat_count",
			Help: "Satellite count from the most recent GGA sentence.",
		}),
		offsetStdDev: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "timesyncd_sntp_offset_stddev_seconds",
			Help: "Running standard deviation of observed SNTP offset samples.",
		}),
		transactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "timesyncd_sntp_transactions_total",
			Help: "SNTP client transactions by result.",
		}, []string{"result"}),
	}
}

// ObserveTransaction increments the transaction counter for result
// ("accepted", "timeout", "dns_error", "malformed", "rejected").
func (m *Metrics) ObserveTransaction(result string) {
	m.transactions.WithLabelValues(result).Inc()
}

// API wires the fiber app to the discipline engine, parser, and client.
type API struct {
	discipline Discipline
	gps        GPS
	client     SNTPClient
	clk        clock.Source
	metrics    *Metrics
}

// New creates an API.
func New(discipline Discipline, gps GPS, client SNTPClient, clk clock.Source, metrics *Metrics) *API {
	return &API{discipline: discipline, gps: gps, client: client, clk: clk, metrics: metrics}
}

// Register mounts the API's routes on app.
func (a *API) Register(app *fiber.App) {
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/healthz", a.healthz)
	app.Get("/status", a.status)
	app.Get("/gps", a.getGPS)
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metricsHandler(c.Context())
		return nil
	})
}

func (a *API) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (a *API) status(c *fiber.Ctx) error {
	now := a.clk.Now()
	stratum := a.discipline.Stratum()
	lastSync := a.discipline.LastSyncMonotonic()
	ageSeconds := float64(now-lastSync) / 1_000_000

	a.metrics.stratum.Set(float64(stratum))
	a.metrics.lastSyncAge.Set(ageSeconds)
	a.metrics.gpsSatCount.Set(float64(a.gps.SatCount()))
	a.metrics.offsetStdDev.Set(a.client.OffsetStdDevSeconds())

	return c.JSON(fiber.Map{
		"stratum":              stratum,
		"reference_id":         a.discipline.ReferenceID(),
		"utc_micros":           a.discipline.UTCMicros(),
		"last_sync_age_seconds": ageSeconds,
		"sat_count":            a.gps.SatCount(),
	})
}

// getGPS handles GET /gps, with an optional ?to=lat,lon query param that
// reports distance/bearing to an arbitrary target, per SPEC_FULL.md's
// supplemental distance/bearing feature.
func (a *API) getGPS(c *fiber.Ctx) error {
	now := a.clk.Now()
	fix, ok := a.gps.Location(now)
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no position fix yet"})
	}

	resp := fiber.Map{
		"lat":        fix.Lat,
		"lon":        fix.Lon,
		"alt":        fix.Alt,
		"sat_count":  fix.SatCount,
		"age_micros": fix.AgeMicros,
	}

	if to := c.Query("to"); to != "" {
		lat, lon, err := parseLatLonQuery(to)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		meters, bearing := nmea.Distance(fix, nmea.Fix{Lat: lat, Lon: lon})
		resp["distance_meters"] = meters
		resp["bearing_degrees"] = bearing
	}

	return c.JSON(resp)
}

func parseLatLonQuery(q string) (lat, lon float64, err error) {
	parts := strings.SplitN(q, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "to must be lat,lon")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "invalid lat")
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fiber.NewError(fiber.StatusBadRequest, "invalid lon")
	}
	return lat, lon, nil
}
