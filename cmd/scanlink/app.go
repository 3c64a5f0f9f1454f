package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/scanlink/internal/accessory"
	"github.com/srg/scanlink/internal/radio"
	"github.com/srg/scanlink/internal/radio/goble"
	"github.com/srg/scanlink/internal/radio/tinygo"
	"github.com/srg/scanlink/internal/rigsim"
	"github.com/srg/scanlink/internal/session"
	"github.com/srg/scanlink/pkg/config"
	"golang.org/x/term"
)

// environment holds the process-wide pieces a command builds on.
type environment struct {
	// simulator configures the rig used with --simulate.
	simulator rigsim.Options
	// isTerminal decides colour, progress and interactive input.
	isTerminal func(w any) bool
}

func defaultEnvironment() *environment {
	return &environment{isTerminal: isTerminal}
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// app is what a single command invocation works with. The radio is opened
// on first use so that commands which only touch the registry never need a
// Bluetooth adapter.
type app struct {
	env      *environment
	cfg      *config.Config
	logger   *logrus.Logger
	registry *accessory.Registry
	picker   *accessory.ScanPicker
	rig      *rigsim.Rig

	central      radio.Central
	closeCentral func() error
}

// newApp loads the configuration and the accessory registry for cmd.
// chooser may be nil for commands that never present the picker.
func newApp(cmd *cobra.Command, env *environment, chooser accessory.Chooser) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	a := &app{env: env, cfg: cfg, logger: logger}

	var store accessory.Store = accessory.NewFileStore(cfg.RegistryPath)
	if simulate, _ := cmd.Flags().GetBool("simulate"); simulate {
		opts := env.simulator
		opts.ServiceUUID = cfg.ServiceUUID
		opts.CharacteristicUUID = cfg.CharacteristicUUID
		opts.Logger = logger
		a.rig = rigsim.New(opts)

		id, name := a.rig.Identity()
		store = &accessory.MemoryStore{}
		if err := store.Save(accessory.Identity{ID: id, Name: name}); err != nil {
			a.close()
			return nil, err
		}
	}

	a.picker = &accessory.ScanPicker{
		Scanner:     lazyScanner{a},
		Chooser:     chooser,
		ServiceUUID: cfg.ServiceUUID,
		Timeout:     cfg.ScanTimeout,
		Logger:      logger,
	}
	a.registry, err = accessory.NewRegistry(store, a.picker, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// radio opens the configured backend once.
func (a *app) radio() (radio.Central, error) {
	if a.central != nil {
		return a.central, nil
	}

	switch {
	case a.rig != nil:
		a.central = a.rig
		a.closeCentral = func() error {
			a.rig.Close()
			return nil
		}
	case a.cfg.Backend == config.BackendTinyGo:
		c := tinygo.NewCentral(a.logger)
		if err := c.Open(); err != nil {
			_ = c.Close()
			return nil, err
		}
		a.central, a.closeCentral = c, c.Close
	default:
		c := goble.NewCentral(goble.Options{ConnectTimeout: a.cfg.ConnectTimeout}, a.logger)
		if err := c.Open(); err != nil {
			_ = c.Close()
			return nil, err
		}
		a.central, a.closeCentral = c, c.Close
	}

	a.logger.WithFields(logrus.Fields{
		"backend":   a.backendName(),
		"service":   a.cfg.ServiceUUID,
		"char_uuid": a.cfg.CharacteristicUUID,
	}).Debug("Radio opened")
	return a.central, nil
}

func (a *app) backendName() string {
	if a.rig != nil {
		return "simulator"
	}
	return a.cfg.Backend
}

// controller opens the radio and starts a session controller on it.
func (a *app) controller() (*session.Controller, error) {
	central, err := a.radio()
	if err != nil {
		return nil, err
	}
	return session.New(central, a.registry, session.Options{
		ServiceUUID:        a.cfg.ServiceUUID,
		CharacteristicUUID: a.cfg.CharacteristicUUID,
		AutoReconnect:      a.cfg.AutoReconnect,
		ReconnectDelay:     a.cfg.ReconnectDelay,
		EventBuffer:        a.cfg.EventBuffer,
		Logger:             a.logger,
	}), nil
}

func (a *app) close() {
	if a.closeCentral != nil {
		if err := a.closeCentral(); err != nil {
			a.logger.WithError(err).Debug("Radio close failed")
		}
		a.closeCentral = nil
	}
	if a.rig != nil {
		a.rig.Close()
	}
}

// lazyScanner opens the radio when the picker starts scanning.
type lazyScanner struct{ a *app }

func (s lazyScanner) Scan(ctx context.Context, services []string, handler func(radio.Advertisement)) error {
	central, err := s.a.radio()
	if err != nil {
		return err
	}
	return central.Scan(ctx, services, handler)
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// progressFor returns a printer on w when w is a terminal, nil otherwise.
func (a *app) progressFor(w io.Writer, start func(io.Writer) *ProgressPrinter) *ProgressPrinter {
	if !a.env.isTerminal(w) {
		return nil
	}
	p := start(w)
	p.Start()
	return p
}

func describeIdentity(id accessory.Identity) string {
	if id.IsZero() {
		return "none"
	}
	return fmt.Sprint(id)
}
