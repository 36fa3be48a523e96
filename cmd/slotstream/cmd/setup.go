package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/mrevell/slotstream/internal/catalog"
	"github.com/mrevell/slotstream/internal/config"
	"github.com/mrevell/slotstream/internal/device"
	"github.com/mrevell/slotstream/internal/engine"
	"github.com/mrevell/slotstream/internal/httprange"
	"github.com/mrevell/slotstream/internal/patcher"
	"github.com/mrevell/slotstream/internal/shell"
	"github.com/mrevell/slotstream/internal/state"
	"github.com/mrevell/slotstream/internal/updater"
	"github.com/mrevell/slotstream/internal/zippartial"
)

// app bundles the wired collaborators an update session needs.
type app struct {
	cfg         *config.Config
	store       *state.Store
	sh          shell.Runner
	dev         device.Info
	scraper     *catalog.Scraper
	zip         *zippartial.Reader
	coordinator *patcher.Coordinator
	conn        *dbus.Conn
}

// newApp builds the collaborators from the loaded configuration. The caller
// must Close it.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return nil, err
	}

	sh := shell.NewExec(cfg.Patcher.Elevate)

	dev, err := device.NewProvider(sh).Resolve(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resolve device identity: %w", err)
	}
	applyDeviceOverrides(&dev, cfg.Device)

	fetcher := httprange.NewFetcher(cfg.Catalog.UserAgent)
	fetcher.Cookie = cfg.Catalog.Cookie
	fetcher.Authorization = cfg.Catalog.Authorization

	return &app{
		cfg:     cfg,
		store:   store,
		sh:      sh,
		dev:     dev,
		scraper: catalog.NewScraper(fetcher, cfg.Catalog.URL),
		zip:     zippartial.NewReader(fetcher),
		coordinator: patcher.NewCoordinator(sh, cfg.Patcher.VbmetaPathTemplate,
			cfg.Patcher.RootCheckCmd, cfg.Patcher.RootPatchCmd),
	}, nil
}

func applyDeviceOverrides(dev *device.Info, o config.DeviceConfig) {
	for dst, val := range map[*string]string{
		&dev.Device:             o.Device,
		&dev.BuildID:            o.BuildID,
		&dev.BuildIncremental:   o.BuildIncremental,
		&dev.Fingerprint:        o.Fingerprint,
		&dev.SecurityPatchLevel: o.SecurityPatchLevel,
		&dev.ActiveSlotSuffix:   o.ActiveSlotSuffix,
	} {
		if val != "" {
			*dst = val
		}
	}
}

// engineClient connects to the update engine on the system bus.
func (a *app) engineClient() (engine.Client, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	a.conn = conn
	return engine.NewDBusClient(conn), nil
}

func (a *app) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
	a.store.Close()
}

// runAction executes one worker session and renders its results. A non-nil
// error marks the process exit code; the result lines were already printed.
func runAction(ctx context.Context, action updater.Action) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.engineClient()
	if err != nil {
		return err
	}

	w := updater.NewWorker(updater.Options{
		Action:        action,
		Device:        a.dev,
		Scraper:       a.scraper,
		Zip:           a.zip,
		Engine:        client,
		Coordinator:   a.coordinator,
		Store:         a.store,
		Shell:         a.sh,
		UserAgent:     a.cfg.Catalog.UserAgent,
		Authorization: a.cfg.Catalog.Authorization,
		NetworkID:     a.cfg.Engine.NetworkID,
		Callbacks: updater.Callbacks{
			Progress: func(phase engine.Phase, fraction float64) {
				fmt.Printf("\r%-10s %3.0f%%", phase, fraction*100)
			},
			Result: func(res updater.Result) {
				// \r steps over an in-place progress line.
				fmt.Printf("\r%s\n", res.Render())
			},
		},
	})

	results := w.Run(ctx)

	var failed bool
	for _, res := range results {
		if res.IsError {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("%s did not complete cleanly", action)
	}
	slog.Debug("Session finished", "action", action.String(), "results", len(results))
	return nil
}
