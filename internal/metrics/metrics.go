// Package metrics holds the prometheus collectors of the PSI protocols.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ktopiwo/psi/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector below, plus the go runtime and process collectors.
	Registry = prometheus.NewRegistry()

	// EmptinessSessions counts emptiness sessions by role and outcome.
	EmptinessSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "psi",
		Subsystem: "emptiness",
		Name:      "sessions_total",
		Help:      "Number of emptiness sessions, by role and state",
	}, []string{"role", "state"})
	// MalformedMessages counts inbound events that were rejected.
	MalformedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "psi",
		Name:      "malformed_messages_total",
		Help:      "Number of inbound messages rejected as malformed",
	}, []string{"event"})
	// ProtocolRuns counts finished DH-PSI executions.
	ProtocolRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "psi",
		Subsystem: "dhpsi",
		Name:      "runs_total",
		Help:      "Number of finished DH-PSI executions, by result",
	}, []string{"result"})
	// BlindingDuration observes the time spent exponentiating one set.
	BlindingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "psi",
		Name:      "blinding_duration_seconds",
		Help:      "Time spent blinding or re-blinding a set",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"step"})

	bindOnce sync.Once
)

// Role and state label values.
const (
	RoleInitiator = "initiator"
	RoleResponder = "responder"

	StateStarted  = "started"
	StateResolved = "resolved"

	ResultOK    = "ok"
	ResultAbort = "abort"
)

func bind() {
	bindOnce.Do(func() {
		Registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			EmptinessSessions,
			MalformedMessages,
			ProtocolRuns,
			BlindingDuration,
		)
	})
}

// ObserveSince records the time elapsed since start under step.
func ObserveSince(step string, start time.Time) {
	BlindingDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// Handler serves Registry in the prometheus text format.
func Handler() http.Handler {
	bind()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Start serves Handler on /metrics at addr until ctx is done.
func Start(ctx context.Context, addr string, l log.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	s := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Warnw("metrics server stopped", "err", err)
		}
	}()
	l.Debugw("metrics listener started", "at", ln.Addr().String())
	return ln, nil
}
