// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ninepin provides helpers for the ASCII frame protocol spoken by
// ninepin lane controllers and the scoring application driving them.
//
// Every frame is a run of printable bytes closed by a carriage return.
// Frames heading to a lane carry the addressed lane digit at offset 1,
// frames coming from a lane carry the sender lane digit at offset 3.
// Most frames end with a two digit hexadecimal checksum placed right
// before the terminator.
package ninepin

// Framing
const (
	Terminator byte = '\r'

	// Checksum is two upper-case hex digits placed before the terminator
	ChecksumSize = 2
)

// Field offsets
const (
	OutgoingLaneOffset = 1
	IncomingLaneOffset = 3
	CommandOffset      = 4

	// Lanes are addressed by a single ASCII digit
	MaxLanes = 10
)

// ControllerPrefix starts every frame reported by a lane controller
const ControllerPrefix = "38"

// Commands sent to lanes
const (
	CmdEnter     = "T24"
	CmdTimeStop  = "T14"
	CmdGameStart = "IG"
	CmdPractice  = "P"
	CmdEditScore = "Z"
)

// Commands reported by lanes
const (
	CmdLaneIdle  = "i0"
	CmdLanePause = "p0"
)

// Throw report layout (35 bytes including checksum and terminator)
const (
	ThrowFrameLength = 35

	throwNumberStart     = 5
	throwNumberEnd       = 8
	nextArrangementStart = 17
	nextArrangementEnd   = 20
)

// Game start layout
const (
	totalSumStart = 15
	totalSumEnd   = 18

	// Largest value encodable in the three hex digit sum field
	MaxTotalSum = 0xFFF
)
