package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopicName(t *testing.T) {
	valid := []string{
		"sensors/greenhouse/temp",
		"relaybridge/system/status",
		"a",
		"devices/relay-01/state",
	}
	for _, topic := range valid {
		if err := ValidateTopicName(topic); err != nil {
			t.Errorf("ValidateTopicName(%q) = %v, want nil", topic, err)
		}
	}

	invalid := []string{
		"",
		"sensors/+/temp",
		"sensors/#",
		"sensors//temp",
		"/sensors",
		"sensors/",
		"sensors/\x00/temp",
		strings.Repeat("a", maxTopicLength+1),
	}
	for _, topic := range invalid {
		err := ValidateTopicName(topic)
		if err == nil {
			t.Errorf("ValidateTopicName(%q) = nil, want error", topic)
			continue
		}
		if !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateTopicName(%q) = %v, want ErrInvalidTopic", topic, err)
		}
	}
}

func TestValidateSubscriptionFilter(t *testing.T) {
	valid := []string{
		"sensors/greenhouse/temp",
		"sensors/+/temp",
		"sensors/#",
		"#",
		"+",
		"+/+/+",
	}
	for _, filter := range valid {
		if err := ValidateSubscriptionFilter(filter); err != nil {
			t.Errorf("ValidateSubscriptionFilter(%q) = %v, want nil", filter, err)
		}
	}

	invalid := []string{
		"",
		"sensors/#/temp",
		"sensors/x#",
		"sensors/x+/temp",
		"sensors//temp",
	}
	for _, filter := range invalid {
		err := ValidateSubscriptionFilter(filter)
		if err == nil {
			t.Errorf("ValidateSubscriptionFilter(%q) = nil, want error", filter)
			continue
		}
		if !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateSubscriptionFilter(%q) = %v, want ErrInvalidTopic", filter, err)
		}
	}
}
