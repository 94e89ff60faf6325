// Package nuki defines the Nuki smart lock domain types shared by the
// coordinator and the Bluetooth bridge: lock, action, trigger and door
// sensor enumerations, the keyturner-states report decoder, and the
// freshness rule applied to state updates.
//
// Enumeration values mirror the keyturner BLE protocol and must not be
// renumbered.
package nuki
