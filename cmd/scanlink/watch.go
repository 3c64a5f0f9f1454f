package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/scanlink/internal/groutine"
	"github.com/srg/scanlink/internal/protocol"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/internal/transport"
	"github.com/srg/scanlink/pkg/config"
)

type watchOptions struct {
	asJSON      bool
	stdin       bool
	autoCapture bool
}

func newWatchCmd(env *environment) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Connect and stream rig state and signals",
		Long: `Connects to the paired rig and prints every state change and rig signal.

When stdin is a terminal (or with --stdin) each input line is a command:
  1, 2, 3 or manual, guided, shutter   send a capture command
  r   read the characteristic
  c   connect again
  d   disconnect
  s   print the session summary
  x   forget the rig
  q   quit

With --auto-capture every SCAN_READY is answered with a shutter command
and watch exits when the rig reports SCAN_COMPLETE.

Examples:
  scanlink watch
  scanlink watch --simulate --auto-capture --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, env, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print updates as JSON lines")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Read commands from stdin even when it is not a terminal")
	cmd.Flags().BoolVar(&opts.autoCapture, "auto-capture", false, "Answer SCAN_READY with a shutter command")
	return cmd
}

// watcher is the state of one watch run.
type watcher struct {
	ctrl    *session.Controller
	printer *updatePrinter
	errOut  io.Writer
	opts    *watchOptions

	// settled turns true once the first connect attempt has finished;
	// input lines are held until then.
	settled bool
	pending []string
}

func runWatch(cmd *cobra.Command, env *environment, opts *watchOptions) error {
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
	w := &watcher{
		ctrl:    ctrl,
		printer: newUpdatePrinter(out, opts.asJSON || a.cfg.OutputFormat == config.OutputJSON, env.isTerminal(out)),
		errOut:  cmd.ErrOrStderr(),
		opts:    opts,
	}

	sub := ctrl.Subscribe()
	defer sub.Close()

	var lines <-chan string
	if opts.stdin || env.isTerminal(os.Stdin) {
		lines = readLines(ctx, cmd.InOrStdin())
	}

	if err := ctrl.Connect(); err != nil {
		return err
	}
	return w.run(ctx, sub, lines)
}

func (w *watcher) run(ctx context.Context, sub *session.Subscription, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := w.printer.Print(u); err != nil {
				return err
			}
			done, err := w.handleUpdate(u)
			if done || err != nil {
				return err
			}
		case line, ok := <-lines:
			if !ok {
				// end of input quits, after any held lines have run
				if !w.settled {
					w.pending = append(w.pending, "q")
					lines = nil
					continue
				}
				return nil
			}
			if !w.settled {
				w.pending = append(w.pending, line)
				continue
			}
			if w.handleLine(line) {
				return nil
			}
		}
	}
}

// handleUpdate reacts to an update; done ends the watch.
func (w *watcher) handleUpdate(u session.Update) (done bool, err error) {
	if u.Kind == session.EventReceived {
		if !w.opts.autoCapture {
			return false, nil
		}
		switch u.Event.Kind {
		case protocol.ReadyForCapture:
			w.send(protocol.Shutter)
		case protocol.CaptureWindowClosed:
			return true, nil
		}
		return false, nil
	}

	switch u.Status.State {
	case transport.Ready, transport.Failed, transport.Disconnected:
		if !w.settled {
			w.settled = true
			for i, line := range w.pending {
				if w.handleLine(line) {
					w.pending = w.pending[i+1:]
					return true, nil
				}
			}
			w.pending = nil
		}
	}
	return false, nil
}

// handleLine executes one input line and reports whether to quit.
func (w *watcher) handleLine(line string) (quit bool) {
	line = strings.TrimSpace(line)
	var err error

	switch strings.ToLower(line) {
	case "":
		return false
	case "q", "quit", "exit":
		return true
	case "r", "read":
		err = w.ctrl.Read()
	case "c", "connect":
		err = w.ctrl.Connect()
	case "d", "disconnect":
		w.ctrl.Disconnect()
	case "x", "forget":
		err = w.ctrl.RemoveAccessory()
	case "s", "status":
		info := w.ctrl.Session()
		err = w.printer.Notice("session %s rig=%s state=%s power=%s writes=%d received=%d",
			orNone(info.ID), describeIdentity(info.Accessory), info.Status, info.Power,
			info.Traffic.Writes, info.Traffic.Received)
	default:
		var command protocol.Command
		command, err = protocol.ParseCommand(line)
		if err == nil {
			w.send(command)
			return false
		}
	}

	if err != nil {
		w.report(err)
	}
	return false
}

func (w *watcher) send(command protocol.Command) {
	if err := w.ctrl.Send(command); err != nil {
		w.report(err)
		return
	}
	if err := w.printer.Notice("sent %s", command); err != nil {
		w.report(err)
	}
}

func (w *watcher) report(err error) {
	fmt.Fprintf(w.errOut, "! %s\n", FormatUserError(err))
}

// readLines forwards input lines until EOF or ctx is done.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	groutine.Go(ctx, "watch-stdin", func(ctx context.Context) {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "! reading input: %v\n", err)
		}
	})
	return lines
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
