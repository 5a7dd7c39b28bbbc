package connection

import (
	"context"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusSlow     Status = "slow"
	StatusUnstable Status = "unstable"
)

type Quality string

const (
	QualityGood Quality = "good"
	QualityPoor Quality = "poor"
)

// Probe latency bands and failure thresholds. Two consecutive probe
// failures degrade to unstable, three flip the believed-online state to
// offline; platform online/offline signals are not reliable everywhere, so
// this is the only probe-driven path to offline.
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	goodLatency      = time.Second
	slowLatency      = 3 * time.Second
	unstableFailures = 2
	offlineFailures  = 3
)

// State is an immutable connectivity snapshot delivered to subscribers.
type State struct {
	Status        Status     `json:"status"`
	IsOnline      bool       `json:"isOnline"`
	Quality       Quality    `json:"quality"`
	LastOnlineAt  *time.Time `json:"lastOnlineAt,omitempty"`
	LastOfflineAt *time.Time `json:"lastOfflineAt,omitempty"`
}

// ProbeFunc issues one reachability check and reports its round trip time.
type ProbeFunc func(ctx context.Context) (time.Duration, error)

type Options struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	HTTPClient    *http.Client
	Probe         ProbeFunc // overrides the HTTP probe when set
	Clock         func() time.Time
}

// Monitor tracks network reachability and quality. Platform connectivity
// callbacks feed SetOnline/SetOffline; an active probe loop covers the
// platforms where those signals never fire.
type Monitor struct {
	probe         ProbeFunc
	probeInterval time.Duration
	probeTimeout  time.Duration
	now           func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	nativeOffline bool
	subs          map[int]func(State)
	nextSub       int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor probing probeURL. The initial belief is
// online with good quality; the first probe corrects it if wrong.
func NewMonitor(probeURL string, opts Options) *Monitor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	probe := opts.Probe
	if probe == nil {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{}
		}
		probe = httpProbe(client, probeURL)
	}

	m := &Monitor{
		probe:         probe,
		probeInterval: opts.ProbeInterval,
		probeTimeout:  opts.ProbeTimeout,
		now:           opts.Clock,
		subs:          make(map[int]func(State)),
	}
	now := m.now()
	m.state = State{
		Status:       StatusOnline,
		IsOnline:     true,
		Quality:      QualityGood,
		LastOnlineAt: &now,
	}
	return m
}

func httpProbe(client *http.Client, url string) ProbeFunc {
	return func(ctx context.Context) (time.Duration, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return time.Since(start), nil
	}
}

// Start launches the probe loop. Stop or context cancellation ends it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeOnce(ctx)
			}
		}
	}()
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	m.mu.Lock()
	skip := m.nativeOffline
	m.mu.Unlock()
	if skip {
		// A platform offline signal is authoritative; wait for SetOnline.
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	latency, err := m.probe(probeCtx)
	m.applyProbe(latency, err)
}

// applyProbe folds one probe result into the state machine. Probe errors
// are never surfaced; they only move the state.
func (m *Monitor) applyProbe(latency time.Duration, err error) {
	m.mu.Lock()

	next := m.state
	if err != nil {
		m.failures++
		switch {
		case m.failures >= offlineFailures:
			next.Status = StatusOffline
			next.IsOnline = false
			next.Quality = QualityPoor
			if m.state.IsOnline {
				now := m.now()
				next.LastOfflineAt = &now
			}
		case m.failures >= unstableFailures:
			next.Status = StatusUnstable
			next.Quality = QualityPoor
		}
	} else {
		m.failures = 0
		if !m.state.IsOnline {
			now := m.now()
			next.LastOnlineAt = &now
		}
		next.IsOnline = true
		switch {
		case latency < goodLatency:
			next.Status = StatusOnline
			next.Quality = QualityGood
		case latency < slowLatency:
			next.Status = StatusUnstable
			next.Quality = QualityPoor
		default:
			next.Status = StatusSlow
			next.Quality = QualityPoor
		}
	}

	m.commitLocked(next)
}

// SetOnline feeds a platform "online" signal.
func (m *Monitor) SetOnline() {
	m.mu.Lock()
	m.nativeOffline = false
	m.failures = 0

	next := m.state
	next.Status = StatusOnline
	next.Quality = QualityGood
	if !m.state.IsOnline {
		now := m.now()
		next.LastOnlineAt = &now
	}
	next.IsOnline = true
	m.commitLocked(next)
}

// SetOffline feeds a platform "offline" signal. Probing pauses until the
// matching online signal arrives.
func (m *Monitor) SetOffline() {
	m.mu.Lock()
	m.nativeOffline = true

	next := m.state
	next.Status = StatusOffline
	next.Quality = QualityPoor
	if m.state.IsOnline {
		now := m.now()
		next.LastOfflineAt = &now
	}
	next.IsOnline = false
	m.commitLocked(next)
}

// commitLocked stores the new state and notifies subscribers synchronously
// when it changed. Callbacks run outside the lock so a listener may
// unsubscribe (itself or others) during delivery.
func (m *Monitor) commitLocked(next State) {
	changed := next.Status != m.state.Status ||
		next.Quality != m.state.Quality ||
		next.IsOnline != m.state.IsOnline
	m.state = next

	if !changed {
		m.mu.Unlock()
		return
	}
	listeners := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}

// State returns the current snapshot.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsCurrentlyOnline reports whether requests should be attempted over the
// network at all.
func (m *Monitor) IsCurrentlyOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline && m.state.Status != StatusOffline
}

// IsConnectionGood gates features that need a responsive connection, not
// just any connection.
func (m *Monitor) IsConnectionGood() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsOnline && m.state.Quality == QualityGood
}

// Subscribe registers a listener, invokes it immediately with the current
// state, and returns its unsubscribe function. Unsubscribing is O(1) and
// safe during a notification.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.state
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
