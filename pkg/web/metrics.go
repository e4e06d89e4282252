package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-scenewatch/pkg/hub"
	"github.com/teslashibe/go-scenewatch/pkg/monitor"
)

const namespace = "scenewatch"

// statsCollector reads monitor and hub counters once per scrape.
type statsCollector struct {
	s *Server

	running     *prometheus.Desc
	cycles      *prometheus.Desc
	skipped     *prometheus.Desc
	failures    *prometheus.Desc
	sinkErrors  *prometheus.Desc
	frameMisses *prometheus.Desc
	slotWrites  *prometheus.Desc
	slotDrops   *prometheus.Desc
	wsClients   *prometheus.Desc
	wsDropped   *prometheus.Desc
}

func newStatsCollector(s *Server) *statsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &statsCollector{
		s:           s,
		running:     desc("monitor_running", "1 while the sampling loop is running."),
		cycles:      desc("cycles_total", "Completed sampling cycles."),
		skipped:     desc("cycles_skipped_total", "Sampling ticks skipped for lack of a frame."),
		failures:    desc("cycle_failures_total", "Sampling cycles abandoned on detector failure."),
		sinkErrors:  desc("sink_errors_total", "Failed result deliveries."),
		frameMisses: desc("frame_misses_total", "Frame reads that produced no frame."),
		slotWrites:  desc("frame_slot_writes_total", "Frames published to the latest-frame slot."),
		slotDrops:   desc("frame_slot_drops_total", "Frames overwritten before being read."),
		wsClients:   desc("ws_clients", "Connected websocket clients.", "hub"),
		wsDropped:   desc("ws_dropped_total", "Broadcasts dropped on a full hub queue.", "hub"),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.running, c.cycles, c.skipped, c.failures, c.sinkErrors,
		c.frameMisses, c.slotWrites, c.slotDrops, c.wsClients, c.wsDropped,
	} {
		ch <- d
	}
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.s.deps.Monitor.Stats()

	running := 0.0
	if st.State == monitor.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(st.Cycles))
	ch <- prometheus.MustNewConstMetric(c.skipped, prometheus.CounterValue, float64(st.Skipped))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.Failures))
	ch <- prometheus.MustNewConstMetric(c.sinkErrors, prometheus.CounterValue, float64(st.SinkErrors))
	ch <- prometheus.MustNewConstMetric(c.frameMisses, prometheus.CounterValue, float64(st.FrameMisses))
	ch <- prometheus.MustNewConstMetric(c.slotWrites, prometheus.CounterValue, float64(st.Slot.Writes))
	ch <- prometheus.MustNewConstMetric(c.slotDrops, prometheus.CounterValue, float64(st.Slot.Drops))

	for name, h := range map[string]*hub.Hub{"camera": c.s.cameraHub, "diffs": c.s.diffHub} {
		hs := h.Stats()
		ch <- prometheus.MustNewConstMetric(c.wsClients, prometheus.GaugeValue, float64(hs.Clients), name)
		ch <- prometheus.MustNewConstMetric(c.wsDropped, prometheus.CounterValue, float64(hs.Dropped), name)
	}
}

func (s *Server) initMetrics() {
	s.registry = prometheus.NewRegistry()
	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newStatsCollector(s),
		s.requests,
	)
}

func (s *Server) handleMetrics() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// countRequests records every request after its handler ran.
func (s *Server) countRequests(c *fiber.Ctx) error {
	err := c.Next()

	code := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	s.requests.WithLabelValues(c.Route().Path, strconv.Itoa(code)).Inc()
	return err
}
