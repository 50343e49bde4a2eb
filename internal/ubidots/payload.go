package ubidots

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the fixed first segment of every Ubidots device topic.
const TopicPrefix = "/v1.6/devices/"

// PublishTopic returns the topic a device's readings are published to.
func PublishTopic(device string) string {
	return TopicPrefix + device
}

// SubscribeTopic returns the last-value topic for one device variable.
func SubscribeTopic(device, variable string) string {
	return TopicPrefix + device + "/" + variable + "/lv"
}

// FormatPayload renders records as the Ubidots multi-variable JSON
// document, one key per record in order:
//
//	{"temp": [{"value": 21.50, "timestamp": 1700000000000}], "gps": [{"value": 0.00, "context": {"lat": 1.0}}]}
//
// The timestamp is converted from seconds to milliseconds by appending
// "000" to its decimal form. Context is copied verbatim inside braces;
// the caller is responsible for it being valid JSON. Labels are not
// escaped either; Ubidots labels are restricted to [a-z0-9_-].
func FormatPayload(records []Record) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('"')
		b.WriteString(r.Label)
		b.WriteString(`": [{"value": `)
		b.WriteString(strconv.FormatFloat(r.Value, 'f', 2, 64))
		if r.Timestamp != 0 {
			b.WriteString(`, "timestamp": `)
			b.WriteString(strconv.FormatUint(uint64(r.Timestamp), 10))
			b.WriteString("000")
		}
		if r.Context != "" {
			b.WriteString(`, "context": {`)
			b.WriteString(r.Context)
			b.WriteByte('}')
		}
		b.WriteString("}]")
	}
	b.WriteByte('}')
	return b.String()
}

// LocationContext returns the context fragment Ubidots reads a device
// position from when attached to a variable named "gps" (or any
// variable, for per-dot positions).
func LocationContext(lat, lng float64) string {
	return fmt.Sprintf(`"lat": %.6f, "lng": %.6f`, lat, lng)
}
