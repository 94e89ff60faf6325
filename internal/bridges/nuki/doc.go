// Package nuki implements the Bluetooth bridge to a Nuki smart lock.
//
// This package owns the single BLE session to the lock's keyturner
// service. It republishes every state report to MQTT and executes lock
// commands arriving on the bus, so nothing else in the system needs
// Bluetooth.
//
// # Architecture
//
// The bridge operates as a translator between two buses:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│      Door       │   MQTT   │   Nuki Bridge   │   BLE
//	│   Coordinator   │◄────────►│   (this pkg)    │◄────────► Smart Lock
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Own the BLE session and reconnect when it drops
//   - Subscribe to keyturner state indications
//   - Translate state reports to retained MQTT state messages
//   - Translate MQTT commands to authenticated lock actions
//   - Publish health status and statistics
//
// # Session Model
//
// The keyturner protocol is paired, not bonded: frames on the USDIO
// characteristic are encrypted with XSalsa20-Poly1305 under a long-term
// key issued once at pairing time and identified by a four-byte
// authorization id. Pairing runs out of band; this package expects the
// credentials in its configuration and treats their rejection as fatal,
// because no amount of reconnecting revives a revoked key.
//
// Each lock action is a challenge round-trip: the lock issues a fresh
// 32-byte nonce and the action payload must carry it back, so a
// captured frame cannot be replayed. State reports stream in as
// indications, unsolicited on changes or in answer to an explicit
// request.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - Nuki BLE API: https://developer.nuki.io/page/nuki-smart-lock-api-2/2
package nuki
