package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. env supplies the pieces tests replace.
func newRootCmd(env *environment) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scanlink",
		Short: "Document-scanning rig controller",
		Long: `Bluetooth Low Energy (BLE) controller for a document-scanning rig:

- Pick and remember the rig to pair with
- Connect, discover the rig service and keep the session state
- Send capture commands (manual, guided, shutter)
- Watch rig signals such as SCAN_READY and SCAN_COMPLETE

Use --simulate to drive an in-process rig instead of the radio.`,
		Version: formatVersion(version),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("scanlink {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(newPickCmd(env))
	rootCmd.AddCommand(newForgetCmd(env))
	rootCmd.AddCommand(newStatusCmd(env))
	rootCmd.AddCommand(newSendCmd(env))
	rootCmd.AddCommand(newWatchCmd(env))

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: user config dir/scanlink/config.yaml)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("backend", "", "Radio backend: goble or tinygo (overrides config)")
	flags.Bool("simulate", false, "Talk to a simulated rig instead of the radio")
	flags.BoolP("verbose", "V", false, "Shorthand for --log-level debug")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCmd(defaultEnvironment()).Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
