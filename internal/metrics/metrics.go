// Package metrics exposes a prometheus.Collector reporting the bridge's
// liveness: active calls, upstream registration state, AI realtime
// connection state, and process uptime. It consumes internal/events rather
// than polling the domain packages directly, keeping the collector decoupled
// from callsession/registrar/airealtime internals.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sipaivoice/bridge/internal/events"
)

// ActiveCallsProvider exposes the number of currently active calls.
// *callsession.Manager satisfies this via its ActiveCalls method.
type ActiveCallsProvider interface {
	ActiveCalls() int
}

// Collector is a prometheus.Collector reporting bridge liveness at scrape
// time. Registration and AI-client state are tracked by subscribing to the
// event bus rather than queried synchronously, since neither the registrar
// engine nor the airealtime client expose a blocking "current state" call.
type Collector struct {
	calls     ActiveCallsProvider
	startTime time.Time

	mu             sync.Mutex
	registered     bool
	registerFails  float64
	connectedCalls map[string]bool // callID -> AI client connected
	callsStarted   float64
	callsEnded     float64

	activeCallsDesc   *prometheus.Desc
	registeredDesc    *prometheus.Desc
	registerFailsDesc *prometheus.Desc
	aiConnectedDesc   *prometheus.Desc
	callsStartedDesc  *prometheus.Desc
	callsEndedDesc    *prometheus.Desc
	uptimeDesc        *prometheus.Desc
}

// NewCollector creates a Collector and starts a goroutine that drains bus
// events to keep the gauges current; it returns only if one of the bus's
// channels is closed, which events.Bus itself never does. calls may be nil
// if no Manager is available yet.
func NewCollector(calls ActiveCallsProvider, bus *events.Bus, startTime time.Time) *Collector {
	c := &Collector{
		calls:          calls,
		startTime:      startTime,
		connectedCalls: make(map[string]bool),

		activeCallsDesc: prometheus.NewDesc(
			"sipbridge_active_calls",
			"Number of currently active calls",
			nil, nil,
		),
		registeredDesc: prometheus.NewDesc(
			"sipbridge_registered",
			"Whether the upstream SIP registration is currently active (1) or not (0)",
			nil, nil,
		),
		registerFailsDesc: prometheus.NewDesc(
			"sipbridge_registration_failures_total",
			"Total number of REGISTER failures observed",
			nil, nil,
		),
		aiConnectedDesc: prometheus.NewDesc(
			"sipbridge_ai_connected_sessions",
			"Number of calls whose AI realtime WebSocket is currently connected",
			nil, nil,
		),
		callsStartedDesc: prometheus.NewDesc(
			"sipbridge_calls_started_total",
			"Total number of calls that reached MEDIA_READY",
			nil, nil,
		),
		callsEndedDesc: prometheus.NewDesc(
			"sipbridge_calls_ended_total",
			"Total number of calls that reached TERMINATED",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"sipbridge_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
	go c.consume(bus)
	return c
}

// consume drains the bus's channels for the collector's lifetime, updating
// the in-memory gauge state. Only the latest state matters for a gauge, so
// a dropped event under load (see events.Bus's non-blocking Publish) is
// harmless.
func (c *Collector) consume(bus *events.Bus) {
	if bus == nil {
		return
	}
	for {
		select {
		case s, ok := <-bus.Registrations():
			if !ok {
				return
			}
			c.mu.Lock()
			// ALIVE/DEGRADED are liveness readings published alongside the
			// Record's transitions, not transitions themselves.
			if s.State != events.RegistrationAlive && s.State != events.RegistrationDegraded {
				c.registered = s.State == events.RegistrationRegistered
			}
			if s.State == events.RegistrationFailed {
				c.registerFails++
			}
			c.mu.Unlock()

		case _, ok := <-bus.CallStarts():
			if !ok {
				return
			}
			c.mu.Lock()
			c.callsStarted++
			c.mu.Unlock()

		case s, ok := <-bus.CallEnds():
			if !ok {
				return
			}
			c.mu.Lock()
			c.callsEnded++
			delete(c.connectedCalls, s.CallID)
			c.mu.Unlock()

		case s, ok := <-bus.ClientStatuses():
			if !ok {
				return
			}
			c.mu.Lock()
			if s.Connected {
				c.connectedCalls[s.CallID] = true
			} else {
				delete(c.connectedCalls, s.CallID)
			}
			c.mu.Unlock()
		}
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.registeredDesc
	ch <- c.registerFailsDesc
	ch <- c.aiConnectedDesc
	ch <- c.callsStartedDesc
	ch <- c.callsEndedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.calls != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeCallsDesc, prometheus.GaugeValue,
			float64(c.calls.ActiveCalls()),
		)
	}

	c.mu.Lock()
	registered := 0.0
	if c.registered {
		registered = 1.0
	}
	registerFails := c.registerFails
	aiConnected := float64(len(c.connectedCalls))
	callsStarted := c.callsStarted
	callsEnded := c.callsEnded
	c.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.registeredDesc, prometheus.GaugeValue, registered)
	ch <- prometheus.MustNewConstMetric(c.registerFailsDesc, prometheus.CounterValue, registerFails)
	ch <- prometheus.MustNewConstMetric(c.aiConnectedDesc, prometheus.GaugeValue, aiConnected)
	ch <- prometheus.MustNewConstMetric(c.callsStartedDesc, prometheus.CounterValue, callsStarted)
	ch <- prometheus.MustNewConstMetric(c.callsEndedDesc, prometheus.CounterValue, callsEnded)
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
