// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

var (
	tapLanes      int
	tapErrorsOnly bool
)

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Display lane traffic in human-readable format",
	Long: `Continuously decode and display ninepin frames as they arrive.

Each frame is shown with timestamp, direction, lane and command. Frames that
fail validation (missing terminator, checksum mismatch, lane out of range,
bytes outside Windows-1250) are followed by one note per problem.

Supports serial, gateway socket and WebSocket connections. Tapping the
gateway socket shows both directions of the lane bus.`,
	RunE: runTap,
}

func init() {
	rootCmd.AddCommand(tapCmd)
	tapCmd.Flags().IntVar(&tapLanes, "lanes", ninepin.MaxLanes, "Number of lanes on the bus")
	tapCmd.Flags().BoolVar(&tapErrorsOnly, "errors-only", false, "Only show frames that fail validation")
}

func runTap(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Kegelbridge - Lane Tap\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	frames := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- readFrames(conn, frames)
	}()

	out := cmd.OutOrStdout()
	for {
		select {
		case frame := <-frames:
			printFrame(out, frame, time.Now(), tapLanes, tapErrorsOnly)
		case err := <-errc:
			if isClosed(err) {
				log.Printf("Connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}

// printFrame writes one decoded frame followed by its validation notes
func printFrame(w io.Writer, frame []byte, ts time.Time, lanes int, errorsOnly bool) {
	problems := ninepin.ValidateFrame(frame, lanes)
	if errorsOnly && len(problems) == 0 {
		return
	}
	fmt.Fprint(w, ninepin.FormatFrame(frame, ts, lanes))
	for i, p := range problems {
		fmt.Fprintf(w, "  Issue %d: \033[1;31m%s\033[0m\n", i+1, p.Message)
	}
}
