// Package session owns the recording lifecycle: it turns a stream of raw
// fixes into segments of admitted points.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/trackrec/trackrec/internal/track"
)

// Defaults applied by NewManager.
const (
	DefaultAccuracyCeiling = 15.0
	DefaultEnrichTimeout   = 3 * time.Second
)

// Config holds the collaborators and tunables of a Manager.
type Config struct {
	// Provider delivers fixes while recording. Start fails without one.
	Provider LocationProvider

	// Enricher is optional; admitted points are enriched when set.
	Enricher Enricher

	// Notifier is optional.
	Notifier Notifier

	Logger zerolog.Logger

	// AccuracyCeiling is the largest accepted accuracy radius in meters (default 15).
	AccuracyCeiling float64

	// Admission decides which smoothed fixes become points (default 3 m threshold).
	Admission track.AdmissionPolicy

	// EnrichTimeout bounds a single enrichment lookup (default 3s).
	EnrichTimeout time.Duration

	// Now is the clock, time.Now when nil.
	Now func() time.Time

	// Meter records session counters; the global meter when nil.
	Meter metric.Meter
}

// Summary is a point-in-time view of the session for display layers.
type Summary struct {
	SessionID   string        `json:"sessionId"`
	State       State         `json:"state"`
	Status      Status        `json:"status"`
	Elapsed     time.Duration `json:"-"`
	ElapsedText string        `json:"elapsed"`
	Live        *track.Point  `json:"live,omitempty"`
	Motion      track.Motion  `json:"motion"`
	Segments    int           `json:"segments"`
	Points      int           `json:"points"`
	DistanceKm  float64       `json:"distanceKm"`
}

// Manager is a single recording session. It is safe for concurrent use.
type Manager struct {
	provider      LocationProvider
	enricher      Enricher
	notifier      Notifier
	logger        zerolog.Logger
	ceiling       float64
	admission     track.AdmissionPolicy
	enrichTimeout time.Duration
	now           func() time.Time
	metrics       *metrics

	// lifeMu serializes Start, Stop, Clear and LoadRoute.
	lifeMu sync.Mutex

	// ingestMu serializes fix processing, enrichment included.
	ingestMu sync.Mutex

	// mu guards everything below. It is never held across enrichment.
	mu       sync.RWMutex
	id       string
	state    State
	status   Status
	gen      uint64
	sub      Subscription
	route    *track.Route
	smoother *track.Smoother
	timer    *track.Timer
	last     *track.Point
	live     *track.Point
	motion   track.Motion
}

// NewManager creates an idle session with an empty route.
func NewManager(cfg Config) (*Manager, error) {
	m, err := newMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}

	ceiling := cfg.AccuracyCeiling
	if ceiling <= 0 {
		ceiling = DefaultAccuracyCeiling
	}
	admission := cfg.Admission
	if admission.ThresholdKm <= 0 {
		admission = track.DefaultAdmissionPolicy()
	}
	enrichTimeout := cfg.EnrichTimeout
	if enrichTimeout <= 0 {
		enrichTimeout = DefaultEnrichTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Manager{
		provider:      cfg.Provider,
		enricher:      cfg.Enricher,
		notifier:      notifier,
		logger:        cfg.Logger.With().Str("component", "session").Logger(),
		ceiling:       ceiling,
		admission:     admission,
		enrichTimeout: enrichTimeout,
		now:           now,
		metrics:       m,
		id:            uuid.NewString(),
		state:         StateIdle,
		status:        StatusIdle,
		route:         &track.Route{},
		smoother:      track.NewSmoother(),
		timer:         track.NewTimer(now),
		motion:        track.MotionUnknown,
	}, nil
}

// Start begins recording into a new segment appended to the route. The
// session is recording before the provider subscribes, so fixes delivered
// while Subscribe is still running are kept. The smoothing buffer carries
// over from the previous segment.
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.provider == nil {
		m.mu.RLock()
		recording := m.state == StateRecording
		m.mu.RUnlock()
		if recording {
			return ErrAlreadyRecording
		}
		return ErrProviderUnavailable
	}

	m.mu.Lock()
	if m.state == StateRecording {
		m.mu.Unlock()
		return ErrAlreadyRecording
	}
	m.gen++
	gen := m.gen
	prevElapsed := m.timer.Elapsed()
	m.state = StateRecording
	m.status = StatusRecording
	m.route.Segments = append(m.route.Segments, track.Segment{})
	m.last = nil
	m.timer.Start()
	m.mu.Unlock()

	sub, err := m.provider.Subscribe(ctx,
		func(ctx context.Context, fix track.Fix) {
			if err := m.ingest(ctx, fix, gen); err != nil && !errors.Is(err, ErrNotRecording) {
				m.logger.Warn().Err(err).Msg("fix dropped")
			}
		},
		func(err error) {
			m.failProvider(gen, err)
		},
	)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.gen++
			m.state = StateIdle
			m.status = StatusIdle
			m.route.Segments = m.route.Segments[:len(m.route.Segments)-1]
			m.timer.Restore(prevElapsed)
			m.last = nil
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	m.mu.Lock()
	if m.state != StateRecording || m.gen != gen {
		// The subscription already failed and was torn down by failProvider.
		m.mu.Unlock()
		sub.Cancel()
		return fmt.Errorf("%w: subscription ended while starting", ErrProviderUnavailable)
	}
	m.sub = sub
	ev := m.eventLocked(EventStateChanged)
	segments := len(m.route.Segments)
	m.mu.Unlock()

	m.logger.Info().Str("session_id", ev.SessionID).Int("segment", segments-1).Msg("recording started")
	m.notify(ev)
	return nil
}

// Stop closes the current segment and freezes the elapsed time. The segment
// is kept even when it holds no points. Stopping an idle session is a no-op.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}
	sub := m.haltLocked()
	ev := m.eventLocked(EventStateChanged)
	elapsed := m.timer.Elapsed()
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	m.logger.Info().Str("session_id", ev.SessionID).Dur("elapsed", elapsed).Msg("recording stopped")
	m.notifier.Notify(ev)
}

// Clear discards the route, the smoothing buffer and the elapsed time,
// leaving a session indistinguishable from a new one.
func (m *Manager) Clear() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	var sub Subscription
	wasRecording := m.state == StateRecording
	if wasRecording {
		sub = m.haltLocked()
	} else {
		m.gen++
	}
	m.id = uuid.NewString()
	m.route = &track.Route{}
	m.smoother.Reset()
	m.timer.Reset()
	m.last = nil
	m.live = nil
	m.motion = track.MotionUnknown
	cleared := m.eventLocked(EventRouteCleared)
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	m.logger.Info().Str("session_id", cleared.SessionID).Msg("session cleared")
	if wasRecording {
		changed := cleared
		changed.Type = EventStateChanged
		m.notifier.Notify(changed)
	}
	m.notifier.Notify(cleared)
}

// IngestFix processes one fix against the active recording.
func (m *Manager) IngestFix(ctx context.Context, fix track.Fix) error {
	return m.ingest(ctx, fix, 0)
}

// ingest processes a fix. A non-zero gen binds the fix to the recording
// that subscribed for it.
func (m *Manager) ingest(ctx context.Context, fix track.Fix, gen uint64) error {
	m.ingestMu.Lock()
	defer m.ingestMu.Unlock()

	m.mu.Lock()
	if m.state != StateRecording || (gen != 0 && gen != m.gen) {
		m.mu.Unlock()
		return ErrNotRecording
	}
	gen = m.gen
	inc(m.metrics.fixesReceived)

	if fix.Accuracy > m.ceiling {
		inc(m.metrics.lowAccuracy)
		var events []Event
		if m.status != StatusWaitingForSignal {
			m.status = StatusWaitingForSignal
			events = append(events, m.eventLocked(EventWaitingForSignal))
		}
		m.mu.Unlock()
		m.logger.Debug().Float64("accuracy", fix.Accuracy).Float64("ceiling", m.ceiling).Msg("low accuracy fix dropped")
		m.notify(events...)
		return nil
	}

	var events []Event
	if m.status == StatusWaitingForSignal {
		m.status = StatusRecording
		events = append(events, m.eventLocked(EventStateChanged))
	}

	lat, lon := m.smoother.Smooth(fix.Lat, fix.Lon)
	p := track.Point{
		Lat:      lat,
		Lon:      lon,
		Altitude: fix.Altitude,
		Time:     fix.Time,
		Speed:    fix.Speed,
		Motion:   track.Classify(fix.Speed),
	}
	if p.Time.IsZero() {
		p.Time = m.now()
	}
	// Points within a segment never go back in time; a late or redelivered
	// fix takes the time of the last admitted point.
	if m.last != nil && p.Time.Before(m.last.Time) {
		p.Time = m.last.Time
	}

	live := p
	m.live = &live
	m.motion = p.Motion
	admit := m.admission.ShouldAdmit(p, m.last)
	liveEv := m.eventLocked(EventLivePosition)
	liveEv.Point = clonePoint(&p)
	events = append(events, liveEv)
	m.mu.Unlock()

	m.notify(events...)

	if !admit {
		inc(m.metrics.fixesRejected)
		return nil
	}

	m.enrich(ctx, &p)

	m.mu.Lock()
	if m.state != StateRecording || m.gen != gen {
		m.mu.Unlock()
		m.logger.Debug().Msg("recording ended during fix processing, point discarded")
		return nil
	}
	seg := len(m.route.Segments) - 1
	m.route.Segments[seg] = append(m.route.Segments[seg], p)
	last := p
	m.last = &last
	ev := m.eventLocked(EventPointAccepted)
	ev.Point = clonePoint(&p)
	ev.Ref = &PointRef{Segment: seg, Index: len(m.route.Segments[seg]) - 1}
	m.mu.Unlock()

	inc(m.metrics.pointsAdmitted)
	m.notify(ev)
	return nil
}

// enrich attaches enrichment to p, recording failure as unavailable.
func (m *Manager) enrich(ctx context.Context, p *track.Point) {
	if m.enricher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.enrichTimeout)
	defer cancel()

	e, err := m.enricher.Enrich(ctx, p.Lat, p.Lon)
	if err != nil || e == nil {
		inc(m.metrics.enrichFailures)
		m.logger.Warn().Err(err).Float64("lat", p.Lat).Float64("lon", p.Lon).Msg("enrichment unavailable")
		p.Enrichment = track.Enrichment{Status: track.EnrichmentUnavailable}
		return
	}

	applyEnrichment(p, *e)
}

func applyEnrichment(p *track.Point, e track.Enrichment) {
	if e.Status == track.EnrichmentNone {
		e.Status = track.EnrichmentAvailable
	}
	p.Enrichment = e
	if p.Altitude == nil && e.Elevation != nil {
		alt := *e.Elevation
		p.Altitude = &alt
	}
}

// AttachEnrichment enriches an already recorded point without re-running admission.
func (m *Manager) AttachEnrichment(ref PointRef, e track.Enrichment) error {
	m.mu.Lock()
	p, ok := m.pointLocked(ref)
	if !ok {
		m.mu.Unlock()
		return ErrUnknownPoint
	}
	applyEnrichment(p, e)
	ev := m.eventLocked(EventPointEnriched)
	ev.Point = clonePoint(p)
	ev.Ref = &ref
	m.mu.Unlock()

	m.notify(ev)
	return nil
}

// EnrichPoint looks up enrichment for an already recorded point and attaches
// it. The lookup runs without holding the session lock.
func (m *Manager) EnrichPoint(ctx context.Context, ref PointRef) (*track.Point, error) {
	m.mu.RLock()
	p, ok := m.pointLocked(ref)
	var lat, lon float64
	if ok {
		lat, lon = p.Lat, p.Lon
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPoint
	}
	if m.enricher == nil {
		return nil, ErrEnrichmentUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, m.enrichTimeout)
	defer cancel()

	e, err := m.enricher.Enrich(ctx, lat, lon)
	if err != nil || e == nil {
		inc(m.metrics.enrichFailures)
		if err == nil {
			return nil, ErrEnrichmentUnavailable
		}
		return nil, fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, err)
	}
	if err := m.AttachEnrichment(ref, *e); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok = m.pointLocked(ref)
	if !ok {
		return nil, ErrUnknownPoint
	}
	return clonePoint(p), nil
}

func (m *Manager) pointLocked(ref PointRef) (*track.Point, bool) {
	if ref.Segment < 0 || ref.Segment >= len(m.route.Segments) ||
		ref.Index < 0 || ref.Index >= len(m.route.Segments[ref.Segment]) {
		return nil, false
	}
	return &m.route.Segments[ref.Segment][ref.Index], true
}

// LoadRoute replaces the route, e.g. after an import or reload. The elapsed
// time is restored to duration. It is refused while recording.
func (m *Manager) LoadRoute(r *track.Route, duration time.Duration) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	if m.state == StateRecording {
		m.mu.Unlock()
		return ErrAlreadyRecording
	}
	if r == nil {
		r = &track.Route{}
	}
	m.gen++
	m.route = r.Clone()
	m.smoother.Reset()
	m.timer.Restore(duration)
	m.last = nil
	m.live = nil
	m.motion = track.MotionUnknown
	ev := m.eventLocked(EventRouteLoaded)
	points := m.route.PointCount()
	m.mu.Unlock()

	m.logger.Info().Str("name", r.Name).Int("points", points).Msg("route loaded")
	m.notify(ev)
	return nil
}

// failProvider tears down a subscription that reported an error. Errors
// from a subscription that is no longer current are ignored.
func (m *Manager) failProvider(gen uint64, cause error) {
	m.mu.Lock()
	if m.state != StateRecording || m.gen != gen {
		m.mu.Unlock()
		return
	}
	sub := m.haltLocked()
	perr := &ProviderError{Err: cause}
	errEv := m.eventLocked(EventProviderError)
	errEv.Error = perr.Error()
	stateEv := m.eventLocked(EventStateChanged)
	m.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	inc(m.metrics.providerErrors)
	m.logger.Error().Err(perr).Str("session_id", errEv.SessionID).Msg("location subscription failed, recording stopped")
	m.notify(errEv, stateEv)
}

// haltLocked moves a recording session to idle and returns the
// subscription to cancel once the lock is released.
func (m *Manager) haltLocked() Subscription {
	m.gen++
	m.state = StateIdle
	m.status = StatusIdle
	m.timer.Stop()
	m.last = nil
	sub := m.sub
	m.sub = nil
	return sub
}

func (m *Manager) eventLocked(t EventType) Event {
	return Event{
		Type:      t,
		SessionID: m.id,
		Time:      m.now(),
		State:     m.state,
		Status:    m.status,
	}
}

func (m *Manager) notify(events ...Event) {
	for _, e := range events {
		m.notifier.Notify(e)
	}
}

// Route returns a deep copy of the route.
func (m *Manager) Route() *track.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.route.Clone()
}

// LivePoint returns the most recent smoothed position, admitted or not.
func (m *Manager) LivePoint() *track.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clonePoint(m.live)
}

// Motion returns the motion label of the live position.
func (m *Manager) Motion() track.Motion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motion
}

// Elapsed returns the recording duration.
func (m *Manager) Elapsed() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timer.Elapsed()
}

// ElapsedString returns Elapsed as HH:MM:SS.
func (m *Manager) ElapsedString() string {
	return track.FormatDuration(m.Elapsed())
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the user-facing status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SessionID identifies the session until the next Clear.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// Summary returns a consistent snapshot of the session.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	elapsed := m.timer.Elapsed()
	return Summary{
		SessionID:   m.id,
		State:       m.state,
		Status:      m.status,
		Elapsed:     elapsed,
		ElapsedText: track.FormatDuration(elapsed),
		Live:        clonePoint(m.live),
		Motion:      m.motion,
		Segments:    len(m.route.Segments),
		Points:      m.route.PointCount(),
		DistanceKm:  track.RouteDistance(m.route),
	}
}

func clonePoint(p *track.Point) *track.Point {
	if p == nil {
		return nil
	}
	c := p.Clone()
	return &c
}
