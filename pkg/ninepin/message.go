// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import "time"

// Message is one outbound frame together with its queueing hints.
// TimeWait asks the consumer to hold the frame before sending it.
// Priority is carried for callers; queues stay FIFO.
type Message struct {
	Payload  []byte
	Priority int
	TimeWait time.Duration
}

// Encapsulate wraps a ready frame in a Message with default hints
func Encapsulate(frame []byte) Message {
	return Message{Payload: frame}
}

// Prepare seals body and wraps it in a Message
func Prepare(body []byte) Message {
	return Encapsulate(Seal(body))
}
