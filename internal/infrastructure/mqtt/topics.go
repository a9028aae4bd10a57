package mqtt

import (
	"fmt"
	"strings"
)

// StatusTopic is where the bridge publishes its own lifecycle status
// (online/offline, retained, with LWT for crash detection).
const StatusTopic = "relaybridge/system/status"

// maxTopicLength is the maximum accepted topic name length. The MQTT spec
// allows 65535 bytes; this limit keeps names sane for storage and logging.
const maxTopicLength = 256

// ValidateTopicName checks that a topic name is valid for publishing.
//
// Publish topics must be non-empty, within length limits, contain no
// wildcard characters, and contain no NUL bytes or empty levels.
//
// Returns:
//   - error: ErrInvalidTopic with a description, or nil if valid
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateSubscriptionFilter checks that a topic filter is valid for
// subscribing. Wildcards are allowed but must occupy whole levels:
// "sensors/+/temp" is valid, "sensors/x+/temp" is not, and "#" may only
// appear as the final level.
func ValidateSubscriptionFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: # must be the final level in %q", ErrInvalidTopic, filter)
			}
		case strings.Contains(level, "#"):
			return fmt.Errorf("%w: # must occupy a whole level in %q", ErrInvalidTopic, filter)
		case level != "+" && strings.Contains(level, "+"):
			return fmt.Errorf("%w: + must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// validateTopicCommon applies checks shared by publish topics and
// subscription filters.
func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d characters", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL byte", ErrInvalidTopic)
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" {
			return fmt.Errorf("%w: empty level in %q", ErrInvalidTopic, topic)
		}
	}
	return nil
}
