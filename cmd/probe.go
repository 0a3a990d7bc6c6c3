// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

var (
	probeTimeout int
	probeLanes   int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a valid lane frame",
	Long: `Wait for a valid ninepin frame on the connection until timeout.

This command connects to a serial port, the gateway socket or a WebSocket
bridge and waits for any frame that passes validation. Invalid frames are
counted and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking the wiring of a lane installation.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	probeCmd.Flags().IntVar(&probeLanes, "lanes", ninepin.MaxLanes, "Number of lanes on the bus")
}

func runProbe(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Kegelbridge - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for valid lane frame...\n\n")

	frames := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- readFrames(conn, frames)
	}()

	invalid := 0
	deadline := time.After(time.Duration(probeTimeout) * time.Second)
	for {
		select {
		case frame := <-frames:
			if len(ninepin.ValidateFrame(frame, probeLanes)) > 0 {
				invalid++
				continue
			}
			if invalid > 0 {
				fmt.Printf("(skipped %d invalid frames)\n", invalid)
			}
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Printf("  Frame: %q\n", frame)
			fmt.Printf("  Command: %s\n", ninepin.FormatCommand(frame))
			fmt.Printf("  Length: %d bytes\n", len(frame))
			os.Exit(0)

		case err := <-errc:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)

		case <-deadline:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", probeTimeout)
			os.Exit(1)
		}
	}
}
