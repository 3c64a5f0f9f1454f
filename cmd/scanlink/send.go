package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/pkg/config"
)

type sendOptions struct {
	wait   time.Duration
	asJSON bool
}

func newSendCmd(env *environment) *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Connect and send one capture command",
		Long: `Connects to the paired rig, waits until it is ready and sends one command:

  1, manual   manual capture
  2, guided   guided capture (the rig flips pages and signals SCAN_READY)
  3, shutter  shutter

With --wait the rig's signals are printed for up to that long; a guided
capture stops early once the rig reports SCAN_COMPLETE.

Examples:
  scanlink send guided --wait 2m
  scanlink send 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, env, args[0], opts)
		},
	}

	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "Print rig signals for this long after sending")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print updates as JSON lines")
	return cmd
}

func runSend(cmd *cobra.Command, env *environment, arg string, opts *sendOptions) error {
	command, err := protocol.ParseCommand(arg)
	if err != nil {
		return err
	}

	a, err := newApp(cmd, env, nil)
	if err != nil {
		return err
	}
	defer a.close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	defer ctrl.Close()
	defer ctrl.Disconnect()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	printer := newUpdatePrinter(out, opts.asJSON || a.cfg.OutputFormat == config.OutputJSON, env.isTerminal(out))

	sub := ctrl.Subscribe()
	defer sub.Close()

	if err := ctrl.Connect(); err != nil {
		return err
	}

	id, _ := a.registry.CurrentIdentity()
	progress := a.progressFor(cmd.ErrOrStderr(), func(w io.Writer) *ProgressPrinter {
		return NewProgressPrinter(w, fmt.Sprintf("Connecting to %s", id), "Connecting")
	})
	phase := progress.Callback()
	err = waitReady(ctx, sub, a.cfg.ConnectTimeout, func(u session.Update) {
		phase(u.Status.Message)
	})
	progress.Stop()
	if err != nil {
		return err
	}

	if err := ctrl.Send(command); err != nil {
		return err
	}
	if err := printer.Notice("sent %s", command); err != nil {
		return err
	}

	return followSend(ctx, sub, printer, a.cfg.ConnectTimeout, opts.wait)
}

// followSend waits for the write confirmation and then, for up to wait,
// prints the rig's signals until it reports the capture window closed.
func followSend(ctx context.Context, sub *session.Subscription, printer *updatePrinter, ackTimeout, wait time.Duration) error {
	ack := time.NewTimer(ackTimeout)
	defer ack.Stop()

	var (
		acked    bool
		deadline <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ack.C:
			if !acked {
				return fmt.Errorf("no write confirmation from the rig: %w", context.DeadlineExceeded)
			}
		case <-deadline:
			return nil
		case u, ok := <-sub.C():
			if !ok {
				return session.ErrClosed
			}
			if u.Kind == session.EventReceived {
				if wait <= 0 {
					continue
				}
				if err := printer.Print(u); err != nil {
					return err
				}
				if u.Event.Kind == protocol.CaptureWindowClosed {
					return nil
				}
				continue
			}
			if err := u.Status.Err(); err != nil {
				return err
			}
			if !u.Status.State.Active() {
				return fmt.Errorf("%w: %s", ErrConnectionLost, u.Status.Message)
			}

			done, err := writeOutcome(u.Status.Message)
			if wait > 0 || (done && !acked) {
				if perr := printer.Print(u); perr != nil {
					return perr
				}
			}
			if !done || acked {
				continue
			}
			if err != nil {
				return err
			}
			acked = true
			if wait <= 0 {
				return nil
			}
			deadline = time.After(wait)
		}
	}
}
