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
	"sync"
	"sync/atomic"
	"unsafe"
)

// fatMutex is the heap-allocated state block a Mutex promotes to on
// first contention, first condition-variable use, or first transfer
// attempt. Unlike the skinny word, it carries all the bookkeeping a
// contended mutex needs: a conventional lock/cond pair, a held flag,
// a waiter count, and a reference count pinning it alive.
//
// refcount follows the "offset by one" convention described in the
// algorithm notes: it excludes the reference implied by the primary
// chain (Mutex.val pointing, possibly through a peg chain, at this
// block). refcount == 0 means only the primary chain pins this block,
// and it is eligible for demotion back to a bare word on unlock.
type fatMutex struct {
	header

	mu   sync.Mutex
	cond *sync.Cond

	held     bool
	waiters  uint
	refcount uint64

	// transferEpoch/transferWaiters support VetoTransfer: every
	// VetoTransfer call bumps the epoch and broadcasts, and every
	// Transfer call snapshots the epoch before waiting so it can tell
	// "someone vetoed me" apart from "the mutex simply became free".
	transferEpoch   uint64
	transferWaiters uint
}

func newFatMutex(held bool) *fatMutex {
	fat := &fatMutex{held: held}
	fat.tag = tagFat
	fat.cond = sync.NewCond(&fat.mu)
	if held {
		// The pseudo-reference belonging to whichever goroutine
		// already held the skinny mutex at promotion time.
		fat.refcount = 1
	}
	return fat
}

// promote allocates a fat block for a handle previously in the
// UNLOCKED or LOCKED_FAST state and attempts to publish it. observed
// must be the value most recently read from m.val (nil or lockedPtr).
// On success the returned fat block is locked. On failure (another
// goroutine raced ahead of us) retry is true and the caller should
// re-read m.val and try again.
func (m *Mutex) promote(observed unsafe.Pointer) (fat *fatMutex, retry bool) {
	fat = newFatMutex(observed == lockedPtr)
	fat.mu.Lock()

	if atomic.CompareAndSwapPointer(&m.val, observed, unsafe.Pointer(fat)) {
		return fat, false
	}
	fat.mu.Unlock()
	return nil, true
}

// getFat returns the locked fat block reachable from observed,
// allocating one via promote if none exists yet. retry is true if the
// handle's word changed out from under the caller and the whole
// operation (re-reading m.val) must be retried.
func (m *Mutex) getFat(observed unsafe.Pointer) (fat *fatMutex, retry bool) {
	if unpromoted(observed) {
		return m.promote(observed)
	}
	return m.installPeg(observed)
}

// acquireFatPinned is getFat plus the "this goroutine is now a pinning
// reference" bookkeeping that every caller intending to sit on the
// fat block (as a lock waiter or a transfer waiter) must perform. A
// condition-variable wait does not use it: it goes through getFatHeld
// and relies on the holder's existing pseudo-reference.
func (m *Mutex) acquireFatPinned(observed unsafe.Pointer) (fat *fatMutex, retry bool) {
	fat, retry = m.getFat(observed)
	if retry {
		return nil, true
	}
	atomic.AddUint64(&fat.refcount, 1)
	return fat, false
}

// getFatHeld is the "I already hold this mutex" variant: it locates
// and locks the fat block without adding a new pinning reference
// (the calling goroutine's pin already exists, as the pseudo-reference
// installed when it originally acquired the lock), and fails with
// ErrPermission if the handle is unlocked or the fat block reports
// held == false.
func (m *Mutex) getFatHeld() (fat *fatMutex, err error) {
	for {
		observed := atomic.LoadPointer(&m.val)
		if observed == nil {
			return nil, ErrPermission
		}

		var retry bool
		fat, retry = m.getFat(observed)
		if retry {
			continue
		}

		if !fat.held {
			fat.mu.Unlock()
			return nil, ErrPermission
		}
		return fat, nil
	}
}

// fatLock blocks until fat.held is false, then claims it. The caller
// must already hold fat.mu and must already be accounted for in
// fat.refcount (that reference becomes the holder's pseudo-reference).
// fatLock always returns with fat.mu unlocked.
func (m *Mutex) fatLock(fat *fatMutex) {
	if fat.held {
		fat.waiters++
		for fat.held {
			fat.cond.Wait()
		}
		fat.waiters--
	}
	fat.held = true
	fat.mu.Unlock()
}

// fatRelease decrements fat's refcount, and if that was the last
// pinning reference and the handle still points directly at fat,
// collapses the handle back to UNLOCKED. The caller must hold fat.mu
// and must not be the current holder (held must already be false, or
// about to become irrelevant because this reference was never the
// holder's). fatRelease always unlocks fat.mu before returning.
//
// Go's garbage collector reclaims the fatMutex once it becomes
// unreachable; there is no separate destroy-then-free step to perform
// here, unlike the pthreads original, which must explicitly destroy
// the underlying mutex/cond and call free().
func (m *Mutex) fatRelease(fat *fatMutex) {
	if atomic.AddUint64(&fat.refcount, ^uint64(0)) == 0 {
		atomic.CompareAndSwapPointer(&m.val, unsafe.Pointer(fat), nil)
	}
	fat.mu.Unlock()
}
