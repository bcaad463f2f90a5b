package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "cdicache"

// Topics builds the topic names the daemon publishes and subscribes to.
//
// Every topic lives under a single prefix so several cache daemons can
// share one broker:
//
//	topics := mqtt.NewTopics("cdicache/node-07")
//	topics.RefreshEvent() // "cdicache/node-07/events/refresh"
type Topics struct {
	prefix string
}

// NewTopics returns a topic builder rooted at prefix. Leading and trailing
// slashes are trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of all topics.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: cdicache/status
func (t Topics) Status() string {
	return t.Prefix() + "/status"
}

// RefreshEvent carries one message per completed refresh pass.
//
// Example: cdicache/events/refresh
func (t Topics) RefreshEvent() string {
	return t.Prefix() + "/events/refresh"
}

// InjectEvent carries one message per InjectDevices call.
//
// Example: cdicache/events/inject
func (t Topics) InjectEvent() string {
	return t.Prefix() + "/events/inject"
}

// RefreshCommand is subscribed to by the daemon; any message triggers a
// cache refresh.
//
// Example: cdicache/command/refresh
func (t Topics) RefreshCommand() string {
	return t.Prefix() + "/command/refresh"
}

// AllEvents matches every event topic.
//
// Pattern: cdicache/events/+
func (t Topics) AllEvents() string {
	return t.Prefix() + "/events/+"
}
