package ubidots

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageHandler is called for each message received on a subscribed
// topic. The client only invokes it from [Client.Loop].
type MessageHandler func(topic string, payload []byte)

// VariableFromTopic splits a last-value topic of the form
// "/v1.6/devices/<device>/<variable>/lv" into its device and variable
// labels. ok is false for any other shape.
func VariableFromTopic(topic string) (device, variable string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "lv" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ParseValue parses a last-value payload. Ubidots sends the value as
// decimal text ("1", "127.5"), not JSON.
func ParseValue(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("parse value: empty payload")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value %q: %w", s, err)
	}
	return v, nil
}
