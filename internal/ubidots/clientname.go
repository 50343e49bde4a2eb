package ubidots

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// interfaceLister is swapped in tests.
var interfaceLister = net.Interfaces

// hardwareClientName returns the first non-loopback hardware address
// formatted as upper-case colon-separated hex, the same ID an ESP32
// derives from its WiFi MAC. It returns "" when no
// interface has a usable address.
func hardwareClientName() string {
	ifaces, err := interfaceLister()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String())
	}
	return ""
}

// resolveClientName picks the MQTT client ID: the configured name, then
// the hardware address, then a fresh UUIDv7.
func resolveClientName(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if name := hardwareClientName(); name != "" {
		return name, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate client name: %w", err)
	}
	return id.String(), nil
}
