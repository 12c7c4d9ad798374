package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/mqtt"
	"github.com/nerrad567/nightscan/internal/scheduler"
)

// Alert IDs published under nightscan/core/alert/{id}.
const (
	AlertDiscoveryFailed = "discovery-failed"
	AlertFault           = "fault"
	AlertShutdown        = "shutdown"
)

// Event types published under nightscan/core/event/{type}.
const (
	EventPassComplete = "pass_complete"
	EventExposure     = "exposure"
)

// Logger is the logging interface used by telemetry sinks.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Publisher is the subset of the MQTT client used for status messages.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// StatePayload is the retained scheduler state message.
type StatePayload struct {
	Site      string `json:"site"`
	Night     string `json:"night"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// PassPayload announces a completed pass.
type PassPayload struct {
	Site     string `json:"site"`
	Night    string `json:"night"`
	Pass     int    `json:"pass"`
	Exposed  int    `json:"exposed"`
	Skipped  int    `json:"skipped"`
	Started  string `json:"started"`
	Finished string `json:"finished"`
}

// ExposurePayload announces a stored frame.
type ExposurePayload struct {
	Site         string   `json:"site"`
	Kind         string   `json:"kind"`
	ImageTag     string   `json:"image_tag"`
	ExposureTime float64  `json:"exposure_time"`
	Intensity    *float64 `json:"intensity,omitempty"`
	Path         string   `json:"path"`
	Timestamp    string   `json:"timestamp"`
}

// AlertPayload is an operator alert.
type AlertPayload struct {
	Site      string `json:"site"`
	Night     string `json:"night,omitempty"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Status publishes controller status on MQTT.
type Status struct {
	scheduler.NopObserver

	pub    Publisher
	site   string
	night  string
	topics mqtt.Topics
	logger Logger
}

// NewStatus creates a status publisher for site.
func NewStatus(pub Publisher, site string) *Status {
	return &Status{pub: pub, site: site, logger: noopLogger{}}
}

// SetNight sets the night name carried by later messages. Call it before
// the night starts.
func (s *Status) SetNight(night string) {
	s.night = night
}

// SetLogger sets the logger.
func (s *Status) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// StateChanged publishes the new state as a retained message.
func (s *Status) StateChanged(_ context.Context, state scheduler.State, at time.Time) {
	s.publish(s.topics.CoreState(), StatePayload{
		Site:      s.site,
		Night:     s.night,
		State:     state.String(),
		Timestamp: stamp(at),
	}, true)
}

// ExposureTaken publishes an exposure event.
func (s *Status) ExposureTaken(_ context.Context, e scheduler.ExposureEvent) {
	s.publish(s.topics.CoreEvent(EventExposure), ExposurePayload{
		Site:         s.site,
		Kind:         string(e.Kind),
		ImageTag:     e.ImageTag,
		ExposureTime: e.ExposureTime,
		Intensity:    e.Intensity,
		Path:         e.Path,
		Timestamp:    stamp(e.At),
	}, false)
}

// PassCompleted publishes a pass_complete event.
func (s *Status) PassCompleted(_ context.Context, p scheduler.PassEvent) {
	s.publish(s.topics.CoreEvent(EventPassComplete), PassPayload{
		Site:     s.site,
		Night:    s.night,
		Pass:     p.Pass,
		Exposed:  p.Exposed,
		Skipped:  p.Skipped,
		Started:  stamp(p.Started),
		Finished: stamp(p.Finished),
	}, false)
}

// Alert publishes an operator alert. err may be nil.
func (s *Status) Alert(id, message string, err error, at time.Time) {
	payload := AlertPayload{
		Site:      s.site,
		Night:     s.night,
		Message:   message,
		Timestamp: stamp(at),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.publish(s.topics.CoreAlert(id), payload, false)
}

func (s *Status) publish(topic string, v any, retained bool) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(topic, v, retained); err != nil {
		s.logger.Warn("status publish failed", "topic", topic, "error", err)
	}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
