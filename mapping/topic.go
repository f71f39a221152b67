package mapping

import (
	"strings"

	"github.com/c360/mapgate/errors"
)

// Topic wildcard segments, MQTT-style.
const (
	TopicWildcardSingle = "+"
	TopicWildcardMulti  = "#"
	TopicSeparator      = "/"
)

// SplitTopic splits a topic or topic pattern into its segments, dropping
// empty leading/trailing segments produced by surrounding separators.
func SplitTopic(topic string) []string {
	trimmed := strings.Trim(topic, TopicSeparator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, TopicSeparator)
}

// IsWildcardTopic reports whether a topic pattern contains any wildcard.
func IsWildcardTopic(topic string) bool {
	return strings.Contains(topic, TopicWildcardMulti) || strings.Contains(topic, TopicWildcardSingle)
}

// ValidateTopicPattern checks a subscription topic pattern: a multi-level
// wildcard may appear at most once and only as the final segment; wildcard
// segments must stand alone (no "a+b").
func ValidateTopicPattern(pattern string) errors.ValidationErrors {
	var result errors.ValidationErrors

	segments := SplitTopic(pattern)
	if len(segments) == 0 {
		result = append(result, errors.ValidationError{
			Field:   "topicPattern",
			Message: "topic pattern must not be empty",
		})
		return result
	}

	multiSeen := 0
	for i, segment := range segments {
		switch {
		case segment == TopicWildcardMulti:
			multiSeen++
			if i != len(segments)-1 {
				result = append(result, errors.ValidationError{
					Field:   "topicPattern",
					Message: "multi-level wildcard only allowed in final position",
				})
			}
		case segment == TopicWildcardSingle:
			// standalone single-level wildcard is fine anywhere
		case strings.Contains(segment, TopicWildcardMulti) || strings.Contains(segment, TopicWildcardSingle):
			result = append(result, errors.ValidationError{
				Field:   "topicPattern",
				Message: "wildcard must occupy a whole topic segment: " + segment,
			})
		}
	}
	if multiSeen > 1 {
		result = append(result, errors.ValidationError{
			Field:   "topicPattern",
			Message: "only one multi-level wildcard allowed",
		})
	}
	return result
}

// Validate checks a mapping in isolation and against the other mappings of
// its tenant. Collision rules: two mappings of the same direction must not
// share an identical normalized topic pattern; an outbound mapping needs a
// publish topic. Returns a discrete error list, empty when valid.
func Validate(existing []*Mapping, m *Mapping) errors.ValidationErrors {
	var result errors.ValidationErrors

	switch m.Direction {
	case DirectionInbound:
		result = append(result, ValidateTopicPattern(m.TopicPattern)...)
	case DirectionOutbound:
		if m.PublishTopic == "" {
			result = append(result, errors.ValidationError{
				Field:   "publishTopic",
				Message: "outbound mapping requires a publish topic",
			})
		}
		if strings.Contains(m.PublishTopic, TopicWildcardMulti) {
			result = append(result, errors.ValidationError{
				Field:   "publishTopic",
				Message: "no multi-level wildcard allowed in publish topic",
			})
		}
	default:
		result = append(result, errors.ValidationError{
			Field:   "direction",
			Message: "direction must be INBOUND or OUTBOUND",
		})
	}

	if m.TargetAPI == "" {
		result = append(result, errors.ValidationError{
			Field:   "targetAPI",
			Message: "target API must be set",
		})
	}

	normalized := normalizePattern(m.ResolvePattern())
	for _, other := range existing {
		if other.ID == m.ID || other.Direction != m.Direction {
			continue
		}
		if normalizePattern(other.ResolvePattern()) == normalized && normalized != "" {
			result = append(result, errors.ValidationError{
				Field:   "topicPattern",
				Message: "topic collides with mapping " + other.ID,
			})
		}
	}
	return result
}

func normalizePattern(pattern string) string {
	return strings.Join(SplitTopic(pattern), TopicSeparator)
}
