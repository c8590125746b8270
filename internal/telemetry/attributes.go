// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans.
const (
	CycleIDKey     = "cycle.id"
	RecordingKey   = "recording.stem"
	SourceKey      = "recording.source"
	SpeakerKey     = "speaker.id"
	SpeakerNameKey = "speaker.name"
)

// CycleAttributes tags a scan-cycle span.
func CycleAttributes(cycleID string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(CycleIDKey, cycleID)}
}

// RecordingAttributes tags a span working on one recording.
func RecordingAttributes(stem, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RecordingKey, stem),
		attribute.String(SourceKey, source),
	}
}

// SpeakerAttributes tags a speaker identity operation. Empty fields are
// omitted.
func SpeakerAttributes(speakerID, name string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if speakerID != "" {
		attrs = append(attrs, attribute.String(SpeakerKey, speakerID))
	}
	if name != "" {
		attrs = append(attrs, attribute.String(SpeakerNameKey, name))
	}
	return attrs
}
