package updater

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"github.com/mrevell/slotstream/internal/catalog"
	"github.com/mrevell/slotstream/internal/device"
	"github.com/mrevell/slotstream/internal/engine"
	"github.com/mrevell/slotstream/internal/errs"
	"github.com/mrevell/slotstream/internal/otameta"
	"github.com/mrevell/slotstream/internal/patcher"
	"github.com/mrevell/slotstream/internal/propfile"
	"github.com/mrevell/slotstream/internal/shell"
	"github.com/mrevell/slotstream/internal/state"
	"github.com/mrevell/slotstream/internal/zippartial"
)

// Package entry names inside an update package.
const (
	payloadEntry           = "payload.bin"
	payloadPropertiesEntry = "payload_properties.txt"
	careMapEntry           = "care_map.pb"
)

// Callbacks deliver progress and results to the caller. Both may be invoked
// from the worker's or the engine's thread of control; marshalling onto a
// UI-affine context is the caller's responsibility.
type Callbacks struct {
	Progress func(phase engine.Phase, fraction float64)
	Result   func(Result)
}

// Options wires a worker's collaborators.
type Options struct {
	Action      Action
	Device      device.Info
	Scraper     *catalog.Scraper
	Zip         *zippartial.Reader
	Engine      engine.Client
	Coordinator *patcher.Coordinator
	Store       *state.Store
	Shell       shell.Runner
	Callbacks   Callbacks

	UserAgent     string
	Authorization string
	NetworkID     string
}

// payloadCache is what a later SWITCH_SLOT run needs to re-apply the payload
// without touching the network.
type payloadCache struct {
	URL    string            `json:"url"`
	Offset uint64            `json:"offset"`
	Size   uint64            `json:"size"`
	Props  map[string]string `json:"props"`
}

// Worker executes exactly one update session. The caller must not start a
// second worker while one is active.
type Worker struct {
	opts    Options
	bridge  *engine.Bridge
	log     *slog.Logger
	session string
	wg      conc.WaitGroup
}

// NewWorker creates a worker for one action.
func NewWorker(opts Options) *Worker {
	session := uuid.NewString()
	w := &Worker{
		opts:    opts,
		session: session,
		log: slog.Default().With(
			"component", "updater",
			"session", session,
			"action", opts.Action.String()),
	}
	w.bridge = engine.NewBridge(opts.Engine, opts.Callbacks.Progress)
	return w
}

// Start runs the worker on its own goroutine. Wait blocks until it is done.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Go(func() {
		w.Run(ctx)
	})
}

// Wait blocks until a started worker finishes.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Run executes the session synchronously and returns its results. Every
// error path collapses into a result; the engine is unbound no matter how
// the run ends.
func (w *Worker) Run(ctx context.Context) (results []Result) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Worker panicked", "panic", r)
			results = []Result{resultFailed(fmt.Sprintf("internal error: %v", r), w.opts.Action)}
		}
		for _, res := range results {
			w.deliver(res)
		}
	}()
	defer w.bridge.Unbind()

	if err := w.bridge.Bind(ctx); err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}

	status := w.bridge.WaitForStatus(func(s engine.Status) bool { return s != engine.StatusUnknown })
	w.log.Info("Engine status observed", "status", status.String())

	switch {
	case w.opts.Action == ActionNoRoot:
		return w.runNoRoot(ctx)

	case w.opts.Action == ActionRevert:
		return w.runRevert(ctx)

	case status == engine.StatusUpdatedNeedReboot:
		// Re-entrant completion: a previous run applied the payload but the
		// patch steps or the reboot never happened.
		return w.runPendingReboot(ctx)

	case status != engine.StatusIdle:
		// Engine already mid-operation: a valid resume path, not an error.
		if w.opts.Action == ActionCheck {
			return []Result{resultCheckSkipped("update engine is busy", ActionInstall)}
		}
		w.log.Info("Resuming in-flight payload application")
		return []Result{w.waitForOutcome(ctx)}

	default:
		switch w.opts.Action {
		case ActionCheck:
			return w.runCheck(ctx)
		case ActionInstall:
			return []Result{w.runInstall(ctx)}
		case ActionSwitchSlot:
			return []Result{w.runSwitchSlot(ctx)}
		default:
			return []Result{resultFailed(fmt.Sprintf("unhandled action %s", w.opts.Action), w.opts.Action)}
		}
	}
}

// deliver posts one result to the caller. Error results that no listener can
// show are persisted as pending alerts and replayed later.
func (w *Worker) deliver(res Result) {
	w.log.Info("Result", "kind", string(res.Kind), "is_error", res.IsError, "detail", res.Render())

	if res.IsError && w.opts.Callbacks.Result == nil {
		var alerts []Result
		if _, err := w.opts.Store.GetJSON(state.KeyPendingAlerts, &alerts); err == nil {
			alerts = append(alerts, res)
			if err := w.opts.Store.PutJSON(state.KeyPendingAlerts, alerts); err != nil {
				w.log.Warn("Failed to persist pending alert", "error", err)
			}
		}
	}
	if w.opts.Callbacks.Result != nil {
		w.opts.Callbacks.Result(res)
	}
}

func (w *Worker) runNoRoot(ctx context.Context) []Result {
	if err := w.opts.Store.SetBool(state.KeyRootAvailable, false); err != nil {
		w.log.Warn("Failed to persist root availability", "error", err)
	}
	prefs, err := w.opts.Store.Prefs()
	if err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}
	if !prefs.EnableRootPatch && !prefs.EnableVbmetaPatch {
		return []Result{resultRootUnnecessary()}
	}
	return []Result{resultRootUnavailable()}
}

func (w *Worker) runRevert(ctx context.Context) []Result {
	if err := w.bridge.ResetStatus(); err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}

	status := w.bridge.WaitForStatus(func(s engine.Status) bool {
		return s != engine.StatusUnknown && s != engine.StatusUpdatedNeedReboot
	})
	if status != engine.StatusIdle {
		return []Result{resultFailed(fmt.Sprintf("engine reported %s after revert", status), w.opts.Action)}
	}

	prefs, err := w.opts.Store.Prefs()
	if err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}
	if prefs.EnableVbmetaPatch {
		// If the running slot is already fully un-verified, normalize the
		// reverted slot back to the same state so the next boot chain is
		// consistent.
		active, err := w.opts.Coordinator.VerifiedBootFlags(ctx, w.opts.Device.ActiveSlotSuffix)
		fullyDisabled := patcher.FlagVerityDisabled | patcher.FlagVerificationDisabled
		if err == nil && active&fullyDisabled == fullyDisabled {
			if err := w.opts.Coordinator.EnsureVerifiedBootFlags(ctx,
				w.opts.Device.InactiveSlotSuffix(), fullyDisabled); err != nil {
				return []Result{resultPatchFailed(errs.Chain(err))}
			}
		}
	}

	for _, key := range []string{state.KeyTargetVersion, state.KeyPayloadProperties} {
		if err := w.opts.Store.Delete(key); err != nil {
			w.log.Warn("Failed to clear cached state", "key", key, "error", err)
		}
	}
	return []Result{resultReverted()}
}

func (w *Worker) runPendingReboot(ctx context.Context) []Result {
	prefs, err := w.opts.Store.Prefs()
	if err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}
	if err := w.applyPatches(ctx, prefs); err != nil {
		return []Result{resultPatchFailed(errs.Chain(err))}
	}
	return []Result{resultNeedReboot()}
}

// applyPatches performs the post-install patch steps gated by preference.
// Both steps are idempotent in the coordinator.
func (w *Worker) applyPatches(ctx context.Context, prefs state.Prefs) error {
	if prefs.EnableRootPatch {
		if err := w.opts.Coordinator.EnsureRootPatch(ctx); err != nil {
			return err
		}
	}
	if prefs.EnableVbmetaPatch {
		want := patcher.DesiredFlags(prefs.VerityOnly)
		if err := w.opts.Coordinator.EnsureVerifiedBootFlags(ctx,
			w.opts.Device.InactiveSlotSuffix(), want); err != nil {
			return err
		}
		if err := w.opts.Store.PutJSON(state.KeyVbmetaFlags, want); err != nil {
			w.log.Warn("Failed to persist verified-boot flags", "error", err)
		}
	}
	return nil
}

func (w *Worker) runCheck(ctx context.Context) []Result {
	prefs, err := w.opts.Store.Prefs()
	if err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}

	if res, stop := w.checkMismatch(ctx, prefs); stop {
		return []Result{res}
	}

	// Fresh check cycle: drop the previous cycle's cache.
	for _, key := range []string{state.KeyCheckResults, state.KeyTargetVersion} {
		if err := w.opts.Store.Delete(key); err != nil {
			return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
		}
	}

	candidates, err := w.opts.Scraper.Fetch(ctx, w.opts.Device.Device, w.opts.Device.BuildID, prefs.AllowReinstall)
	if err != nil {
		if errs.KindOf(err) == errs.KindTransfer {
			return []Result{resultNetworkUnavailable(errs.Chain(err))}
		}
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}

	var checks []CheckResult
	for _, cand := range candidates {
		check, err := w.evaluateCandidate(ctx, cand)
		if err != nil {
			if errs.KindOf(err) == errs.KindValidation {
				w.log.Info("Candidate not applicable", "version", cand.Version, "reason", errs.Chain(err))
				continue
			}
			return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
		}
		if check.Fingerprint == w.opts.Device.Fingerprint && !prefs.AllowReinstall {
			w.log.Info("Candidate is the running build", "version", cand.Version)
			continue
		}
		checks = append(checks, check)
	}

	if len(checks) == 0 {
		return []Result{resultUpdateUnnecessary()}
	}

	if err := w.opts.Store.PutJSON(state.KeyCheckResults, checks); err != nil {
		return []Result{resultFailed(errs.Chain(err), w.opts.Action)}
	}
	w.markNotified(prefs)

	results := make([]Result, 0, len(checks))
	for i, check := range checks {
		results = append(results, resultUpdateAvailable(check.Version, i))
	}
	return results
}

// markNotified advances the check-cycle counter and sets the notified flag
// only every NotifyEveryCycles-th cycle that finds an update, so the caller's
// notification layer can throttle repeat prompts.
func (w *Worker) markNotified(prefs state.Prefs) {
	var count int
	if _, err := w.opts.Store.GetJSON(state.KeyNotifyCycleCount, &count); err != nil {
		w.log.Warn("Failed to read notification cycle counter", "error", err)
	}
	count++
	if count < prefs.NotifyEveryCycles {
		if err := w.opts.Store.PutJSON(state.KeyNotifyCycleCount, count); err != nil {
			w.log.Warn("Failed to persist notification cycle counter", "error", err)
		}
		return
	}
	if err := w.opts.Store.PutJSON(state.KeyNotifyCycleCount, 0); err != nil {
		w.log.Warn("Failed to reset notification cycle counter", "error", err)
	}
	if err := w.opts.Store.SetBool(state.KeyUpdateNotified, true); err != nil {
		w.log.Warn("Failed to persist notification flag", "error", err)
	}
}

// evaluateCandidate indexes the candidate package and validates its metadata
// against the running build.
func (w *Worker) evaluateCandidate(ctx context.Context, cand catalog.Candidate) (CheckResult, error) {
	index, err := w.opts.Zip.Index(ctx, cand.URL)
	if err != nil {
		return CheckResult{}, err
	}

	ref, ok := index[otameta.EntryName]
	if !ok {
		return CheckResult{}, errs.New(errs.KindFormat, "package %s has no metadata entry", cand.Version)
	}
	data, err := w.opts.Zip.ReadEntry(ctx, cand.URL, ref)
	if err != nil {
		return CheckResult{}, err
	}
	meta, err := otameta.Decode(data)
	if err != nil {
		return CheckResult{}, err
	}

	fingerprint, err := otameta.Validate(meta, otameta.Current{
		Device:             w.opts.Device.Device,
		BuildIncremental:   w.opts.Device.BuildIncremental,
		Fingerprint:        w.opts.Device.Fingerprint,
		SecurityPatchLevel: w.opts.Device.SecurityPatchLevel,
		Timestamp:          w.opts.Device.Timestamp,
	})
	if err != nil {
		return CheckResult{}, err
	}

	return CheckResult{
		Version:     cand.Version,
		Fingerprint: fingerprint,
		URL:         cand.URL,
		Index:       index,
	}, nil
}

// checkMismatch re-validates a previously tolerated root/verified-boot
// divergence and reports whether the check must stop.
func (w *Worker) checkMismatch(ctx context.Context, prefs state.Prefs) (Result, bool) {
	if !prefs.EnableRootPatch && !prefs.EnableVbmetaPatch {
		return Result{}, false
	}

	rootAvailable, err := w.opts.Store.GetBool(state.KeyRootAvailable, true)
	if err != nil {
		w.log.Warn("Failed to read root availability", "error", err)
		rootAvailable = true
	}

	tolerated, _ := w.opts.Store.GetBool(state.KeyMismatchTolerated, false)

	var vbmetaDiverged bool
	if prefs.EnableVbmetaPatch {
		observed, err := w.opts.Coordinator.VerifiedBootFlags(ctx, w.opts.Device.ActiveSlotSuffix)
		if err != nil {
			w.log.Warn("Failed to read verified-boot flags", "error", err)
		} else {
			var last byte
			haveLast, _ := w.opts.Store.GetJSON(state.KeyVbmetaFlags, &last)
			if tolerated && haveLast && observed != last {
				// The state moved again since the user tolerated it.
				tolerated = false
				if err := w.opts.Store.SetBool(state.KeyMismatchTolerated, false); err != nil {
					w.log.Warn("Failed to revoke mismatch tolerance", "error", err)
				}
			}
			vbmetaDiverged = observed != patcher.DesiredFlags(prefs.VerityOnly)
			if err := w.opts.Store.PutJSON(state.KeyVbmetaFlags, observed); err != nil {
				w.log.Warn("Failed to persist verified-boot flags", "error", err)
			}
		}
	}

	var rootMissing bool
	if prefs.EnableRootPatch && rootAvailable {
		present, err := w.opts.Coordinator.RootPatchPresent(ctx)
		if err != nil {
			w.log.Warn("Failed to check root patch state", "error", err)
		} else {
			rootMissing = !present
		}
	}

	var kind ResultKind
	switch {
	case prefs.EnableRootPatch && !rootAvailable:
		kind = KindUpdateMismatchRootUnavailable
	case rootMissing && vbmetaDiverged:
		kind = KindUpdateMismatch
	case rootMissing:
		kind = KindUpdateMismatchMagisk
	case vbmetaDiverged:
		kind = KindUpdateMismatchVbmeta
	default:
		return Result{}, false
	}

	if tolerated {
		w.log.Info("Mismatch present but tolerated", "kind", string(kind))
		return Result{}, false
	}
	return resultMismatch(kind), true
}

func (w *Worker) runInstall(ctx context.Context) Result {
	prefs, err := w.opts.Store.Prefs()
	if err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}

	target, err := w.opts.Store.GetString(state.KeyTargetVersion)
	if err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}

	var checks []CheckResult
	found, err := w.opts.Store.GetJSON(state.KeyCheckResults, &checks)
	if err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}
	var check *CheckResult
	if found {
		for i := range checks {
			if checks[i].Version == target {
				check = &checks[i]
				break
			}
		}
	}
	if check == nil {
		return resultFailed("OTA is missing", w.opts.Action)
	}

	payloadRef, ok := check.Index[payloadEntry]
	if !ok {
		return resultFailed(fmt.Sprintf("package has no %s entry", payloadEntry), w.opts.Action)
	}
	propsRef, ok := check.Index[payloadPropertiesEntry]
	if !ok {
		return resultFailed(fmt.Sprintf("package has no %s entry", payloadPropertiesEntry), w.opts.Action)
	}

	// The care map is fetched alongside the properties; the engine's
	// post-install step consumes it from the streamed payload, so only its
	// integrity matters here.
	var propsData []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		propsData, err = w.opts.Zip.ReadEntry(gctx, check.URL, propsRef)
		return err
	})
	if careRef, ok := check.Index[careMapEntry]; ok {
		g.Go(func() error {
			data, err := w.opts.Zip.ReadEntry(gctx, check.URL, careRef)
			if err == nil {
				w.log.Debug("Fetched care map", "bytes", len(data))
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}

	props, err := propfile.Parse(propsData)
	if err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}

	cache := payloadCache{
		URL:    check.URL,
		Offset: payloadRef.Offset,
		Size:   payloadRef.Size,
		Props:  props,
	}
	if err := w.opts.Store.PutJSON(state.KeyPayloadProperties, cache); err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}

	merged := propfile.Merge(props, w.engineProps(prefs, false))
	if err := w.bridge.ApplyPayload(check.URL, payloadRef.Offset, payloadRef.Size, merged); err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}
	return w.waitForOutcome(ctx)
}

func (w *Worker) runSwitchSlot(ctx context.Context) Result {
	var cache payloadCache
	found, err := w.opts.Store.GetJSON(state.KeyPayloadProperties, &cache)
	if err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}
	if !found {
		return resultFailed("no cached payload properties; install first", w.opts.Action)
	}

	prefs, err := w.opts.Store.Prefs()
	if err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}

	merged := propfile.Merge(cache.Props, w.engineProps(prefs, true))
	if err := w.bridge.ApplyPayload(cache.URL, cache.Offset, cache.Size, merged); err != nil {
		return resultFailed(errs.Chain(err), w.opts.Action)
	}
	return w.waitForOutcome(ctx)
}

// engineProps builds the transport/installation properties merged over the
// package's payload properties. A slot-switch-only run forces the
// post-install step off and the slot switch on.
func (w *Worker) engineProps(prefs state.Prefs, switchSlotOnly bool) map[string]string {
	props := map[string]string{
		"USER_AGENT": w.opts.UserAgent,
	}
	if w.opts.Authorization != "" {
		props["AUTHORIZATION"] = w.opts.Authorization
	}
	if w.opts.NetworkID != "" {
		props["NETWORK_ID"] = w.opts.NetworkID
	}

	if switchSlotOnly {
		props["RUN_POST_INSTALL"] = "0"
		props["SWITCH_SLOT_ON_REBOOT"] = "1"
		return props
	}

	if prefs.SkipPostInstall {
		props["RUN_POST_INSTALL"] = "0"
	} else {
		props["RUN_POST_INSTALL"] = "1"
	}
	if prefs.AutoSwitchSlot {
		props["SWITCH_SLOT_ON_REBOOT"] = "1"
	} else {
		props["SWITCH_SLOT_ON_REBOOT"] = "0"
	}
	return props
}

// waitForOutcome is the shared tail of INSTALL and SWITCH_SLOT: block until
// the engine reports a terminal code, then run patch steps and map the code
// to a result.
func (w *Worker) waitForOutcome(ctx context.Context) Result {
	code := w.bridge.WaitForError(func(c engine.ErrorCode) bool { return c != engine.ErrorUnknown })
	w.log.Info("Engine reported terminal code", "code", code.String())

	switch code {
	case engine.ErrorSuccess:
		prefs, err := w.opts.Store.Prefs()
		if err != nil {
			return resultFailed(errs.Chain(err), w.opts.Action)
		}
		if err := w.applyPatches(ctx, prefs); err != nil {
			return resultPatchFailed(errs.Chain(err))
		}
		if prefs.AutoReboot {
			if err := w.opts.Shell.Run(ctx, "svc", "power", "reboot", "ota"); err != nil {
				w.log.Warn("Automatic reboot failed", "error", err)
			}
		}
		return resultSucceeded()

	case engine.ErrorUpdatedButNotActive:
		return resultNeedSwitchSlot()

	case engine.ErrorUserCanceled:
		return resultCancelled()

	default:
		return resultFailed(code.String(), w.opts.Action)
	}
}
