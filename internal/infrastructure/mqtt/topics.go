package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "onewire"

// Topics builds the bridge-level topics under a prefix.
// Item topics (state, command, ack, ...) are built by the bridge itself.
//
//	topics := mqtt.NewTopics("onewire")
//	topics.Status() // "onewire/status"
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Status returns the connection status topic that also carries the LWT.
//
// Example: onewire/status
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// All returns a subscription pattern for every topic under the prefix.
//
// Example: onewire/#
func (t Topics) All() string {
	return t.Prefix + "/#"
}
