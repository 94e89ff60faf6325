// Package protocol defines the MQTT wire messages and topic names shared
// by the door coordinator and the Bluetooth bridge.
//
// Messages are JSON with UTC RFC 3339 timestamps in a "ts" field. Producers
// use the New* constructors; consumers use the Decode* helpers, which
// validate payloads so malformed input can be discarded without crashing an
// event loop.
//
// Topic layout, rooted at the configured device identifier:
//
//	{device}/lock/state         lock state reports (retained)
//	{device}/lock/command       lock action commands
//	{device}/lock/event         lock-initiated action events
//	{device}/button/event       remote push-button presses
//	{device}/door/state         door state machine reports (retained)
//	{device}/door/request       remote open/hold/close requests
//	{device}/doorsensor/state   door sensor reports (retained)
//	{device}/door/health        coordinator health (retained, LWT)
//	{device}/bridge/health      bridge health (retained, LWT)
package protocol
