// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Kegelbridge - Ninepin Lane Protocol Gateway
//
// Relays frames between ninepin lane controllers and the scoring
// application, measures lane response times and mirrors all traffic to
// TCP clients.

package main

import (
	"os"

	"github.com/Thermoquad/kegelbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
