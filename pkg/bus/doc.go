// Package bus provides at-least-once messaging over redis streams using
// consumer groups. Messages are acknowledged only after the handler succeeds,
// so handlers must tolerate redelivery.
package bus
