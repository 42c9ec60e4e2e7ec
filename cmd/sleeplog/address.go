package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// normalizeAddress accepts a MAC address (Linux, HCI) or a peripheral UUID (macOS,
// CoreBluetooth) and returns it in the lowercase form the BLE backend reports.
func normalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}

	if hw, err := net.ParseMAC(s); err == nil && len(hw) == 6 {
		return hw.String(), nil
	}
	if id, err := uuid.Parse(s); err == nil {
		return id.String(), nil
	}
	return "", fmt.Errorf("invalid device address %q: expected a MAC address (aa:bb:cc:dd:ee:ff) or a device UUID", s)
}
