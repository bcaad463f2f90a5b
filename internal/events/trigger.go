package events

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/cdicache/internal/infrastructure/mqtt"
)

// Refresher is satisfied by *cdi.Cache.
type Refresher interface {
	Refresh() error
}

// Subscriber is satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// RefreshCommand is the optional JSON body of a refresh command. An empty
// or non-JSON payload is accepted as a command without a reason.
type RefreshCommand struct {
	Reason string `json:"reason"`
}

// RefreshTrigger refreshes the cache whenever a message arrives on the
// refresh command topic.
type RefreshTrigger struct {
	cache  Refresher
	logger Logger
}

// NewRefreshTrigger returns a trigger for cache. logger may be nil.
func NewRefreshTrigger(cache Refresher, logger Logger) *RefreshTrigger {
	if logger == nil {
		logger = noopLogger{}
	}
	return &RefreshTrigger{cache: cache, logger: logger}
}

// Subscribe registers the trigger on topic with the given QoS.
func (t *RefreshTrigger) Subscribe(sub Subscriber, topic string, qos byte) error {
	if err := sub.Subscribe(topic, qos, t.Handle); err != nil {
		return fmt.Errorf("subscribing to refresh commands: %w", err)
	}
	return nil
}

// Handle is the MQTT message handler. A failed refresh is returned so the
// MQTT client logs it; the cache has already recorded the details.
func (t *RefreshTrigger) Handle(topic string, payload []byte) error {
	var cmd RefreshCommand
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &cmd) //nolint:errcheck // free-form payloads carry no reason
	}

	t.logger.Info("refresh requested over MQTT", "topic", topic, "reason", cmd.Reason)
	if err := t.cache.Refresh(); err != nil {
		return fmt.Errorf("refresh from %s: %w", topic, err)
	}
	return nil
}
