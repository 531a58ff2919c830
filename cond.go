// Copyright 2020 Nathan Taylor (nbtaylor@gmail.com)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package skinnymutex

import (
	"context"
	"time"

	"v.io/x/lib/nsync"
)

// CondWait atomically releases m and blocks on cv, re-acquiring m
// before returning. The caller must hold m. CondWait waits on cv with
// no deadline and no cancellation channel: it returns nil with m held
// again once the wait on cv returns, or ErrPermission, without
// waiting, if m is not held.
//
// CondWaitContext is the cancellable variant. A cancelled wait returns
// a *WaitError and, like every other return after a wait, leaves m
// held, matching platform convention for condition variables: cleanup
// code running after a cancelled wait still finds the mutex in a
// locked state.
func (m *Mutex) CondWait(cv *nsync.CV) error {
	return m.condWaitDeadline(cv, nsync.NoDeadline, nil)
}

// CondWaitContext is CondWait with an absolute deadline and
// cancellation channel sourced from ctx. If ctx has a deadline, it is
// used verbatim (not translated into a relative duration, since the
// underlying primitive already takes an absolute time). If ctx is
// cancelled before cv is signalled and before any deadline expires,
// CondWaitContext returns a *WaitError wrapping ctx.Err().
func (m *Mutex) CondWaitContext(cv *nsync.CV, ctx context.Context) error {
	deadline := nsync.NoDeadline
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	return m.condWaitDeadline(cv, deadline, ctx.Done())
}

func (m *Mutex) condWaitDeadline(cv *nsync.CV, deadline time.Time, cancel <-chan struct{}) error {
	fat, err := m.getFatHeld()
	if err != nil {
		return err
	}

	// No extra reference is taken across the wait: the holder's
	// existing pseudo-reference, already in fat.refcount, is what
	// pins the fat block alive while we're inside WaitWithDeadline.
	fat.held = false
	if fat.waiters > 0 {
		fat.cond.Signal()
	}

	outcome := cv.WaitWithDeadline(&fat.mu, deadline, cancel)

	switch outcome {
	case nsync.OK:
		m.fatLock(fat)
		return nil
	case nsync.Expired:
		m.fatLock(fat)
		return ErrTimeout
	default: // nsync.Cancelled
		// WaitWithDeadline returns with fat.mu held regardless of
		// outcome. Set held=true directly rather than going through
		// fatLock's wait loop, so that the cancelled call returns
		// without blocking and leaves the mutex observably held.
		fat.held = true
		fat.mu.Unlock()
		return &WaitError{Err: context.Canceled}
	}
}
