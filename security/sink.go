// Package security provides SecuritySink implementations
package security

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
)

// LogSink writes security notifications as structured log entries.
// Notify never blocks the caller.
type LogSink struct {
	logger zerolog.Logger
}

var _ interfaces.SecuritySink = (*LogSink)(nil)

// NewLogSink creates a sink logging through the global zerolog logger
func NewLogSink() *LogSink {
	return NewLogSinkWithLogger(log.Logger)
}

// NewLogSinkWithLogger creates a sink logging through logger
func NewLogSinkWithLogger(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "security_sink").Logger()}
}

// Notify implements interfaces.SecuritySink
func (s *LogSink) Notify(eventType string, payload map[string]any, context map[string]string) {
	go s.write(eventType, payload, context)
}

func (s *LogSink) write(eventType string, payload map[string]any, context map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("event_type", eventType).Msg("Security notification failed")
		}
	}()

	event := s.logger.Warn().Str("event_type", eventType)
	if len(payload) > 0 {
		event = event.Fields(payload)
	}
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		event = event.Str("ctx_"+k, context[k])
	}
	event.Msg("Security event")
}

// NopSink discards every notification
type NopSink struct{}

// Notify implements interfaces.SecuritySink
func (NopSink) Notify(string, map[string]any, map[string]string) {}
