package observability

import (
	"sync"
	"time"
)

// CallStats summarizes one endpoint or RPC method.
type CallStats struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

// Report is the JSON view served on the debug endpoint.
type Report struct {
	UptimeSec       int64                `json:"uptime_sec"`
	TotalRequests   int64                `json:"total_requests"`
	TotalErrors     int64                `json:"total_errors"`
	InFlight        int64                `json:"in_flight"`
	RateLimitWaits  int64                `json:"rate_limit_waits"`
	RateLimitWaitMs int64                `json:"rate_limit_wait_ms"`
	Transitions     map[string]int64     `json:"transitions"`
	Shutdown        *ShutdownReport      `json:"shutdown,omitempty"`
	Calls           map[string]CallStats `json:"calls"`
}

// ShutdownReport records when draining began.
type ShutdownReport struct {
	At               time.Time `json:"at"`
	InFlightAtSignal int64     `json:"inflight_at_signal"`
}

type callCounters struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics keeps in-process counters for calls, rate limiting and saga
// transitions.
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	calls          map[string]*callCounters
	transitions    map[string]int64
	rateLimitWaits int64
	rateLimitWait  time.Duration
	shutdownAt     time.Time
	shutdownFlight int64
}

// Span is an in-flight call started by Metrics.Start.
type Span struct {
	metrics *Metrics
	name    string
	start   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:       time.Now(),
		calls:       make(map[string]*callCounters),
		transitions: make(map[string]int64),
	}
}

func (m *Metrics) Start(name string) *Span {
	if m == nil {
		return &Span{}
	}
	m.mu.Lock()
	m.counters(name).inFlight++
	m.mu.Unlock()
	return &Span{metrics: m, name: name, start: time.Now()}
}

func (s *Span) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.finish(s.name, time.Since(s.start), err != nil)
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

// AddTransition counts a saga transition keyed "From->To".
func (m *Metrics) AddTransition(from, to string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.transitions[from+"->"+to]++
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.shutdownAt = time.Now()
	m.shutdownFlight = inflight
	m.mu.Unlock()
}

// InFlight returns the number of calls currently running.
func (m *Metrics) InFlight() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.calls {
		n += c.inFlight
	}
	return n
}

func (m *Metrics) Report() Report {
	if m == nil {
		return Report{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{
		UptimeSec:       int64(time.Since(m.start).Seconds()),
		Calls:           make(map[string]CallStats, len(m.calls)),
		Transitions:     make(map[string]int64, len(m.transitions)),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}
	for name, c := range m.calls {
		avg := 0.0
		if c.count > 0 {
			avg = float64(c.totalLatency.Milliseconds()) / float64(c.count)
		}
		rep.Calls[name] = CallStats{
			Count:         c.count,
			Errors:        c.errors,
			InFlight:      c.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(c.maxLatency.Milliseconds()),
			LastLatencyMs: float64(c.lastLatency.Milliseconds()),
		}
		rep.TotalRequests += c.count
		rep.TotalErrors += c.errors
		rep.InFlight += c.inFlight
	}
	for k, v := range m.transitions {
		rep.Transitions[k] = v
	}
	if !m.shutdownAt.IsZero() {
		rep.Shutdown = &ShutdownReport{At: m.shutdownAt, InFlightAtSignal: m.shutdownFlight}
	}
	return rep
}

func (m *Metrics) counters(name string) *callCounters {
	c, ok := m.calls[name]
	if !ok {
		c = &callCounters{}
		m.calls[name] = c
	}
	return c
}

func (m *Metrics) finish(name string, dur time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(name)
	c.inFlight--
	c.count++
	if failed {
		c.errors++
	}
	c.totalLatency += dur
	if dur > c.maxLatency {
		c.maxLatency = dur
	}
	c.lastLatency = dur
}
