package api

import (
	"sync/atomic"
	"time"
)

// Metrics collects in-memory server metrics using atomic counters.
type Metrics struct {
	startTime       time.Time
	requests        atomic.Int64
	serverErrors    atomic.Int64
	clientErrors    atomic.Int64
	ticketMoves     atomic.Int64
	sprintChanges   atomic.Int64
	eventsPublished atomic.Int64
	publishErrors   atomic.Int64
	openStreams     atomic.Int64
}

// MetricsSnapshot is a point-in-time view of server metrics.
type MetricsSnapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Requests        int64   `json:"requests"`
	ServerErrors    int64   `json:"server_errors"`
	ClientErrors    int64   `json:"client_errors"`
	TicketMoves     int64   `json:"ticket_moves"`
	SprintChanges   int64   `json:"sprint_changes"`
	EventsPublished int64   `json:"events_published"`
	PublishErrors   int64   `json:"publish_errors"`
	OpenStreams     int64   `json:"open_streams"`
}

// NewMetrics creates a new Metrics instance with the current time as start.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordRequest increments the total request counter.
func (m *Metrics) RecordRequest() {
	m.requests.Add(1)
}

// RecordError increments the server error (5xx) counter.
func (m *Metrics) RecordError() {
	m.serverErrors.Add(1)
}

// RecordClientError increments the client error (4xx) counter.
func (m *Metrics) RecordClientError() {
	m.clientErrors.Add(1)
}

// RecordTicketMove increments the ticket status/sprint change counter.
func (m *Metrics) RecordTicketMove() {
	m.ticketMoves.Add(1)
}

// RecordSprintChange increments the sprint lifecycle change counter.
func (m *Metrics) RecordSprintChange() {
	m.sprintChanges.Add(1)
}

// RecordPublish counts one broadcast event, and a failure on the external
// publisher when failed is set.
func (m *Metrics) RecordPublish(failed bool) {
	m.eventsPublished.Add(1)
	if failed {
		m.publishErrors.Add(1)
	}
}

// StreamOpened and StreamClosed track open event streams.
func (m *Metrics) StreamOpened() { m.openStreams.Add(1) }
func (m *Metrics) StreamClosed() { m.openStreams.Add(-1) }

// Snapshot returns a point-in-time copy of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		UptimeSeconds:   time.Since(m.startTime).Seconds(),
		Requests:        m.requests.Load(),
		ServerErrors:    m.serverErrors.Load(),
		ClientErrors:    m.clientErrors.Load(),
		TicketMoves:     m.ticketMoves.Load(),
		SprintChanges:   m.sprintChanges.Load(),
		EventsPublished: m.eventsPublished.Load(),
		PublishErrors:   m.publishErrors.Load(),
		OpenStreams:     m.openStreams.Load(),
	}
}
