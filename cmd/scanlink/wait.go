package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/srg/scanlink/internal/channel"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/internal/transport"
)

// waitReady consumes updates until the session is Ready, the attempt ends
// in Failed or Disconnected, or ctx is done. Every update is handed to seen.
func waitReady(ctx context.Context, sub *session.Subscription, timeout time.Duration, seen func(session.Update)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for the rig: %w", ctx.Err())
		case u, ok := <-sub.C():
			if !ok {
				return session.ErrClosed
			}
			seen(u)
			if u.Kind != session.StateChanged {
				continue
			}
			switch u.Status.State {
			case transport.Ready:
				return nil
			case transport.Failed:
				return u.Status.Err()
			case transport.Disconnected:
				return fmt.Errorf("%w: %s", ErrConnectionLost, u.Status.Message)
			}
		}
	}
}

// writeOutcome reports whether a status message is the result of a write,
// and the error it carries.
func writeOutcome(msg string) (done bool, err error) {
	switch {
	case msg == channel.StatusWriteOK:
		return true, nil
	case strings.HasPrefix(msg, channel.StatusWriteErrPrefix):
		return true, fmt.Errorf("write failed: %s", strings.TrimPrefix(msg, channel.StatusWriteErrPrefix))
	default:
		return false, nil
	}
}
