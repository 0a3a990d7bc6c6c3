// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Logging flags
	prettyLogs     bool
	minLogPriority int

	// Serial connection flags
	portName string
	baudRate int

	// Socket connection flags
	tcpAddr string

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "kegelbridge",
	Short: "Ninepin lane protocol gateway",
	Long: `Kegelbridge - A gateway between ninepin lane controllers and the scoring application.

The run command bridges the lane side serial port (com_x) and the application
side serial port (com_y), measures lane response times and mirrors all traffic
to TCP clients. The remaining commands help diagnose a lane installation.

Connection modes for tap, probe and ping:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  Socket:    --addr host:5000
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the KEGELBRIDGE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	// Logging flags
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "Colored console logs instead of JSON")
	rootCmd.PersistentFlags().IntVar(&minLogPriority, "min-priority", -1, "Drop log events below this priority (overrides min_log_priority)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// Socket connection flags
	rootCmd.PersistentFlags().StringVarP(&tcpAddr, "addr", "a", "", "Gateway socket address (host:port)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
