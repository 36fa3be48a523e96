package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/mrevell/slotstream/internal/errs"
	"github.com/mrevell/slotstream/internal/propfile"
)

// ProgressFunc receives coarse progress updates. It is invoked on the
// engine's delivery thread; the caller owns marshalling onto its own
// single-threaded context.
type ProgressFunc func(phase Phase, fraction float64)

// Bridge exposes the engine's callback protocol as blocking waits. Status
// and error are tracked as two independent fields, each under its own
// lock+condition pair, since the engine updates them independently.
type Bridge struct {
	client     Client
	log        *slog.Logger
	onProgress ProgressFunc

	statusMu   sync.Mutex
	statusCond *sync.Cond
	status     Status

	errorMu   sync.Mutex
	errorCond *sync.Cond
	lastError ErrorCode

	// Pause calls serialize under their own lock. The engine never reports
	// pause state back, so after a restart the flag must default to
	// unpaused; it is deliberately not persisted.
	pauseMu sync.Mutex
	paused  bool

	unbindOnce sync.Once
}

// NewBridge creates a bridge over client. onProgress may be nil.
func NewBridge(client Client, onProgress ProgressFunc) *Bridge {
	b := &Bridge{
		client:     client,
		log:        slog.Default().With("component", "engine-bridge"),
		onProgress: onProgress,
		status:     StatusUnknown,
		lastError:  ErrorUnknown,
	}
	b.statusCond = sync.NewCond(&b.statusMu)
	b.errorCond = sync.NewCond(&b.errorMu)
	return b
}

// Bind registers the bridge as the engine's callback. Binding races engine
// startup, so it retries briefly before giving up.
func (b *Bridge) Bind(ctx context.Context) error {
	err := retry.Do(
		func() error { return b.client.Bind(b) },
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return errs.Wrap(errs.KindEngine, err, "bind to update engine")
	}
	return nil
}

// Unbind deregisters from the engine. Safe to call from a deferred path
// regardless of how the run ended; only the first call talks to the engine.
func (b *Bridge) Unbind() {
	b.unbindOnce.Do(func() {
		if err := b.client.Unbind(); err != nil {
			b.log.Warn("Failed to unbind from update engine", "error", err)
		}
	})
}

// OnStatusUpdate records the engine's status and wakes status waiters.
// Runs on the engine's delivery thread; it only stores and signals.
func (b *Bridge) OnStatusUpdate(status Status, fraction float64) {
	b.statusMu.Lock()
	b.status = status
	b.statusCond.Broadcast()
	b.statusMu.Unlock()

	if b.onProgress != nil {
		if phase := phaseOf(status); phase != "" {
			b.onProgress(phase, fraction)
		}
	}
}

// OnPayloadApplicationComplete records the terminal error code and wakes
// error waiters.
func (b *Bridge) OnPayloadApplicationComplete(code ErrorCode) {
	b.errorMu.Lock()
	b.lastError = code
	b.errorCond.Broadcast()
	b.errorMu.Unlock()
}

// Status returns the last observed engine status.
func (b *Bridge) Status() Status {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	return b.status
}

// LastError returns the last observed terminal error code.
func (b *Bridge) LastError() ErrorCode {
	b.errorMu.Lock()
	defer b.errorMu.Unlock()
	return b.lastError
}

// WaitForStatus blocks the calling worker until pred holds for the observed
// status and returns that status. There is no timeout: cancellation reaches
// the worker through the engine reporting a terminal state.
func (b *Bridge) WaitForStatus(pred func(Status) bool) Status {
	b.statusMu.Lock()
	defer b.statusMu.Unlock()
	for !pred(b.status) {
		b.statusCond.Wait()
	}
	return b.status
}

// WaitForError blocks until pred holds for the observed error code.
func (b *Bridge) WaitForError(pred func(ErrorCode) bool) ErrorCode {
	b.errorMu.Lock()
	defer b.errorMu.Unlock()
	for !pred(b.lastError) {
		b.errorCond.Wait()
	}
	return b.lastError
}

// SetPaused suspends or resumes payload application. The call is one-way;
// the effect is only observable through subsequent status updates.
func (b *Bridge) SetPaused(paused bool) error {
	b.pauseMu.Lock()
	defer b.pauseMu.Unlock()

	var err error
	if paused {
		err = b.client.Suspend()
	} else {
		err = b.client.Resume()
	}
	if err != nil {
		return errs.Wrap(errs.KindEngine, err, "set paused to %t", paused)
	}
	b.paused = paused
	return nil
}

// Cancel asks the engine to abort the in-flight operation. The worker still
// has to observe a terminal error code to know the operation stopped.
func (b *Bridge) Cancel() error {
	if err := b.client.Cancel(); err != nil {
		return errs.Wrap(errs.KindEngine, err, "cancel update")
	}
	return nil
}

// ResetStatus clears an applied-but-not-rebooted update.
func (b *Bridge) ResetStatus() error {
	if err := b.client.ResetStatus(); err != nil {
		return errs.Wrap(errs.KindEngine, err, "reset engine status")
	}
	return nil
}

// ApplyPayload starts streaming installation of the payload byte range,
// passing props as the engine's KEY=VALUE header list.
func (b *Bridge) ApplyPayload(url string, offset, size uint64, props map[string]string) error {
	headers := propfile.Format(props)
	b.log.Info("Applying payload", "url", url, "offset", offset, "size", size)
	if err := b.client.ApplyPayload(url, offset, size, headers); err != nil {
		return errs.Wrap(errs.KindEngine, err, "apply payload")
	}
	return nil
}
