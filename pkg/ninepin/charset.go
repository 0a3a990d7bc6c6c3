// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ninepin

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// IsWindows1250 reports whether every byte of b is a defined Windows-1250
// code point. Line noise usually produces one of the few undefined bytes.
func IsWindows1250(b []byte) bool {
	for _, c := range b {
		if charmap.Windows1250.DecodeByte(c) == utf8.RuneError {
			return false
		}
	}
	return true
}

// DecodeText converts Windows-1250 bytes to a Go string for display
func DecodeText(b []byte) string {
	out, err := charmap.Windows1250.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
