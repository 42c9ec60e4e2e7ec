// Package device provides the Bluetooth Low Energy (BLE) client abstractions the
// heart rate logger is written against.
//
// It defines backend-neutral types for:
//   - Advertisements received while scanning
//   - GATT profiles (services, characteristics) discovered after connecting
//   - A Transport that scans and dials, and a Client for one live connection
//   - Structured connection and lookup errors
//
// The go-ble backed implementation lives in the goble subpackage. Tests substitute
// their own Transport.
package device
