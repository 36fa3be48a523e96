package engine

import (
	"fmt"
	"sync"
	"time"
)

// Fake is an in-process update engine driving the real Client surface. It
// delivers callbacks from its own goroutine, like the production engine's
// delivery thread, so bridge and orchestrator tests exercise the real
// cross-thread paths.
type Fake struct {
	mu        sync.Mutex
	cond      *sync.Cond
	cb        Callback
	status    Status
	suspended bool
	cancelled bool

	// FinalError is the terminal code reported after ApplyPayload runs its
	// course (unless cancelled first).
	FinalError ErrorCode
	// FinalStatus is the status reached on success.
	FinalStatus Status
	// StepDelay paces the synthetic download/verify/finalize phases.
	StepDelay time.Duration

	// Calls records every RPC for assertions, in order.
	Calls []string
	// AppliedURL/AppliedOffset/AppliedSize/AppliedHeaders capture the last
	// ApplyPayload arguments.
	AppliedURL     string
	AppliedOffset  uint64
	AppliedSize    uint64
	AppliedHeaders []string

	wg sync.WaitGroup
}

var _ Client = (*Fake)(nil)

// NewFake creates a fake engine whose first status report is initial.
func NewFake(initial Status) *Fake {
	f := &Fake{
		status:      initial,
		FinalError:  ErrorSuccess,
		FinalStatus: StatusUpdatedNeedReboot,
		StepDelay:   time.Millisecond,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

// emitStatus delivers a status callback asynchronously.
func (f *Fake) emitStatus(status Status, fraction float64) {
	f.mu.Lock()
	f.status = status
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb.OnStatusUpdate(status, fraction)
	}
}

func (f *Fake) Bind(cb Callback) error {
	f.record("Bind")
	f.mu.Lock()
	if f.cb != nil {
		f.mu.Unlock()
		return fmt.Errorf("fake engine already bound")
	}
	f.cb = cb
	initial := f.status
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		cb.OnStatusUpdate(initial, 0)
	}()
	return nil
}

func (f *Fake) Unbind() error {
	f.record("Unbind")
	f.wg.Wait()
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) Suspend() error {
	f.record("Suspend")
	f.mu.Lock()
	f.suspended = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Resume() error {
	f.record("Resume")
	f.mu.Lock()
	f.suspended = false
	f.cond.Broadcast()
	f.mu.Unlock()
	return nil
}

func (f *Fake) Cancel() error {
	f.record("Cancel")
	f.mu.Lock()
	f.cancelled = true
	f.suspended = false
	f.cond.Broadcast()
	f.mu.Unlock()
	return nil
}

func (f *Fake) ResetStatus() error {
	f.record("ResetStatus")
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.emitStatus(StatusIdle, 0)
	}()
	return nil
}

// ApplyPayload walks the download/verify/finalize phases on a background
// goroutine, honoring Suspend/Resume/Cancel, then reports the terminal code.
func (f *Fake) ApplyPayload(url string, offset, size uint64, headers []string) error {
	f.record("ApplyPayload")
	f.mu.Lock()
	f.AppliedURL = url
	f.AppliedOffset = offset
	f.AppliedSize = size
	f.AppliedHeaders = append([]string(nil), headers...)
	f.cancelled = false
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		steps := []struct {
			status   Status
			fraction float64
		}{
			{StatusDownloading, 0.0},
			{StatusDownloading, 0.5},
			{StatusVerifying, 1.0},
			{StatusFinalizing, 1.0},
		}
		for _, step := range steps {
			if f.waitResumed() { // cancelled
				f.emitStatus(StatusIdle, 0)
				f.complete(ErrorUserCanceled)
				return
			}
			f.emitStatus(step.status, step.fraction)
			time.Sleep(f.StepDelay)
		}
		if f.waitResumed() {
			f.emitStatus(StatusIdle, 0)
			f.complete(ErrorUserCanceled)
			return
		}
		if f.FinalError == ErrorSuccess || f.FinalError == ErrorUpdatedButNotActive {
			f.emitStatus(f.FinalStatus, 1.0)
		} else {
			f.emitStatus(StatusIdle, 0)
		}
		f.complete(f.FinalError)
	}()
	return nil
}

// waitResumed blocks while suspended and reports whether the operation was
// cancelled meanwhile.
func (f *Fake) waitResumed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.suspended && !f.cancelled {
		f.cond.Wait()
	}
	return f.cancelled
}

func (f *Fake) complete(code ErrorCode) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb.OnPayloadApplicationComplete(code)
	}
}
