// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kegelbridge/pkg/ninepin"
)

var (
	pingLane    int
	pingLanes   int
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send Enter to a lane and measure the round trip",
	Long: `Send the Enter command (T24) to one lane and wait for that lane to answer.

Best used against the gateway socket (--addr): the command is queued toward
the lanes like any application frame and the answer is mirrored back to
every socket client. Against a serial port the command goes straight onto
the lane bus.

This is useful for verifying:
  - The gateway socket accepts clients
  - The lane side serial port is wired
  - The addressed lane controller answers

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingLane, "lane", 1, "Lane to ping (1-based)")
	pingCmd.Flags().IntVar(&pingLanes, "lanes", ninepin.MaxLanes, "Number of lanes on the bus")
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if pingLane < 1 || pingLane > pingLanes {
		return fmt.Errorf("--lane must be in 1..%d", pingLanes)
	}
	lane := pingLane - 1

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Kegelbridge - Lane Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Lane: %d\n", pingLane)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	frames := make(chan []byte, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- readFrames(conn, frames)
	}()

	request := ninepin.LaneCommand(lane, ninepin.CmdEnter)
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if _, err := conn.Write(request); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		answer, err := awaitLane(frames, errc, request, lane, pingLanes, time.Duration(pingTimeout)*time.Second)
		switch {
		case err != nil:
			fmt.Printf("%v\n", err)
			failCount++
		default:
			rtt := time.Since(startTime)
			fmt.Printf("answer from lane %d: %q, rtt=%v\n", pingLane, answer, rtt.Round(time.Millisecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d answers received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// awaitLane waits for the first frame sent by lane. Frames from other
// lanes and the echo of requests are skipped.
func awaitLane(frames <-chan []byte, errc <-chan error, request []byte, lane, lanes int, timeout time.Duration) ([]byte, error) {
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-frames:
			if !ninepin.IsControllerFrame(frame) || bytes.Equal(frame, request) {
				continue
			}
			if got, ok := ninepin.IncomingLane(frame, lanes); ok && got == lane {
				return frame, nil
			}
		case err := <-errc:
			return nil, fmt.Errorf("READ FAILED: %w", err)
		case <-deadline:
			return nil, fmt.Errorf("TIMEOUT (no answer in %v)", timeout)
		}
	}
}
