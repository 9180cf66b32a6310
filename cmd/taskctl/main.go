// Command taskctl manages the guest task list on local disk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "Track daily and single tasks from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.dataDir, "data-dir", "", "Directory holding tasks.db (default from config)")
	flags.StringVar(&a.timezone, "timezone", "", "IANA time zone used for today (default from config)")
	flags.BoolVar(&a.asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(addCmd(a))
	rootCmd.AddCommand(quickCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(doneCmd(a))
	rootCmd.AddCommand(undoCmd(a))
	rootCmd.AddCommand(rmCmd(a))
	rootCmd.AddCommand(agendaCmd(a))
	rootCmd.AddCommand(statsCmd(a))
	rootCmd.AddCommand(reclassifyCmd(a))
	rootCmd.AddCommand(exportCmd(a))
	rootCmd.AddCommand(namespacesCmd(a))

	return rootCmd
}
