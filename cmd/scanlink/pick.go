package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/radio"
)

type pickOptions struct {
	address     string
	name        string
	scanTimeout time.Duration
}

func newPickCmd(env *environment) *cobra.Command {
	opts := &pickOptions{}
	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Scan for rigs and remember the chosen one",
		Long: `Scans for devices advertising the rig service, lists them strongest signal
first and stores the one you choose. An empty answer keeps the current rig.

Examples:
  # Scan and choose interactively
  scanlink pick

  # Pair with a known address without scanning
  scanlink pick --address AA:BB:CC:DD:EE:FF --name "Desk rig"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPick(cmd, env, opts)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "Pair with this device id without scanning")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name stored with --address")
	cmd.Flags().DurationVar(&opts.scanTimeout, "scan-timeout", 0, "How long to scan (default from config)")
	return cmd
}

func runPick(cmd *cobra.Command, env *environment, opts *pickOptions) error {
	out := cmd.OutOrStdout()

	var progress *ProgressPrinter
	chooser := &promptChooser{
		in:  bufio.NewReader(cmd.InOrStdin()),
		out: out,
		// The prompt replaces the scan countdown.
		before: func() { progress.Stop() },
	}

	a, err := newApp(cmd, env, chooser)
	if err != nil {
		return err
	}
	defer a.close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if opts.address != "" {
		id := accessory.Identity{ID: opts.address, Name: opts.name}
		if err := a.registry.Set(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Paired with %s\n", id)
		return nil
	}

	if opts.scanTimeout > 0 {
		a.cfg.ScanTimeout = opts.scanTimeout
		a.picker.Timeout = opts.scanTimeout
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress = a.progressFor(cmd.ErrOrStderr(), func(w io.Writer) *ProgressPrinter {
		return NewCountdownProgressPrinter(w, "Looking for rigs", "Scanning", a.cfg.ScanTimeout)
	})
	defer progress.Stop()

	result := <-a.registry.PresentPicker(ctx)
	progress.Stop()

	switch {
	case result.Cancelled():
		current, _ := a.registry.CurrentIdentity()
		fmt.Fprintf(out, "Selection cancelled; keeping %s\n", describeIdentity(current))
		return nil
	case errors.Is(result.Err, accessory.ErrNoCandidates):
		return fmt.Errorf("%w within %s; is the rig powered and nearby?", result.Err, a.cfg.ScanTimeout)
	case result.Err != nil:
		return result.Err
	}

	fmt.Fprintf(out, "Paired with %s\n", result.Identity)
	return nil
}

// promptChooser lists candidates and reads a 1-based choice. An empty line,
// "q" or end of input dismisses the picker.
type promptChooser struct {
	in     *bufio.Reader
	out    io.Writer
	before func()
}

func (p *promptChooser) Choose(ctx context.Context, candidates []radio.Advertisement) (radio.Advertisement, error) {
	if p.before != nil {
		p.before()
	}

	fmt.Fprintf(p.out, "Found %d rig(s):\n", len(candidates))
	for i, c := range candidates {
		name := c.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(p.out, "  %d) %-20s %s  RSSI %d\n", i+1, name, c.ID, c.RSSI)
	}

	for {
		if err := ctx.Err(); err != nil {
			return radio.Advertisement{}, err
		}
		fmt.Fprintf(p.out, "Choose 1-%d (empty to cancel): ", len(candidates))

		line, err := p.in.ReadString('\n')
		answer := strings.TrimSpace(line)
		if answer == "" || strings.EqualFold(answer, "q") {
			fmt.Fprintln(p.out)
			return radio.Advertisement{}, nil
		}

		n, convErr := strconv.Atoi(answer)
		if convErr == nil && n >= 1 && n <= len(candidates) {
			fmt.Fprintln(p.out)
			return candidates[n-1], nil
		}
		fmt.Fprintf(p.out, "\n%q is not a valid choice\n", answer)
		if err != nil {
			return radio.Advertisement{}, nil
		}
	}
}
