// Package events defines the messages exchanged between the shift-interval
// coordinator and its participants: the frame (Envelope), the message types,
// and the UpdateStatus snapshot carried by registration acks and broadcasts.
package events
