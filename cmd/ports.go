// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/kegelbridge/pkg/comport"
)

var (
	portsCheck    []string
	portsCheckAll bool
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports and check that they can be opened",
	Long: `List the serial devices present on this machine.

With --check the named ports are opened and closed again to find out whether
they exist and are free. Use it before starting the gateway to verify com_x
and com_y:

  kegelbridge ports --check /dev/ttyUSB0,/dev/ttyUSB1

Exit codes:
  0 - All checked ports are available
  1 - At least one checked port is missing or busy`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().StringSliceVar(&portsCheck, "check", nil, "Ports to check (comma separated)")
	portsCmd.Flags().BoolVar(&portsCheckAll, "check-all", false, "Check every listed port")
}

func runPorts(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var statuses []comport.PortStatus
	switch {
	case len(portsCheck) > 0:
		for _, name := range portsCheck {
			statuses = append(statuses, comport.CheckPort(name))
		}
	case portsCheckAll:
		var err error
		statuses, err = comport.CheckPorts()
		if err != nil {
			return err
		}
	default:
		names, err := comport.ListPorts()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Fprintln(out, "No serial ports found")
			return nil
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	if !printPortStatuses(out, statuses) {
		os.Exit(1)
	}
	return nil
}

// printPortStatuses writes one line per port and reports whether all of
// them are available.
func printPortStatuses(w io.Writer, statuses []comport.PortStatus) bool {
	ok := true
	for _, s := range statuses {
		switch {
		case s.Available:
			fmt.Fprintf(w, "%-20s \033[1;32mavailable\033[0m\n", s.Name)
		case s.Busy:
			ok = false
			fmt.Fprintf(w, "%-20s \033[1;33mbusy\033[0m\n", s.Name)
		default:
			ok = false
			fmt.Fprintf(w, "%-20s \033[1;31mmissing\033[0m (%v)\n", s.Name, s.Err)
		}
	}
	return ok
}
