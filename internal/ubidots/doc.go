// Package ubidots is a thin client for the Ubidots MQTT API.
//
// Readings are staged with [Client.Add] (and its context/timestamp
// variants) into a fixed buffer of [MaxValues] records, then sent as a
// single JSON document by [Client.Publish] to the device topic
// "/v1.6/devices/<device>". Variables are followed with
// [Client.Subscribe], which listens on "/v1.6/devices/<device>/<var>/lv"
// for last-value updates.
//
// The client does not schedule reconnects. Callers poll
// [Client.Connected] and call [Client.Reconnect] on their own cadence,
// and call [Client.Loop] on every pass of their polling loop so that
// inbound messages are handed to the registered [MessageHandler] on the
// caller's goroutine.
//
// The MQTT transport is Eclipse Paho v2 ([paho]); the Ubidots token is
// sent as the MQTT username with no password. Broker URLs may use
// mqtt/tcp, mqtts/ssl/tls or ws/wss.
package ubidots
