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

// Package skinnymutex implements a "skinny mutex": a mutual exclusion
// lock whose unlocked and uncontended-locked states cost exactly one
// machine word per instance, while still behaving like a full blocking
// mutex once contention appears — waiters sleep in the scheduler
// rather than spin, the mutex can be used with a condition variable,
// and ownership can be handed off between two mutexes atomically.
//
// ## Overview
//
// A Mutex's word starts out nil (unlocked). Lock and Unlock are a
// single compare-and-swap between nil and a sentinel "locked, no
// contention" value; this is the entire cost in the common case.
//
// The first time a goroutine finds the mutex already locked, the
// mutex is *promoted*: a heap-allocated fatMutex is built, carrying a
// conventional sync.Mutex/sync.Cond pair, a held flag, and a waiter
// count, and the handle's word is swung to point at it. From then on,
// Lock/Unlock on a contended mutex fall back to ordinary
// lock-then-condition-wait, exactly like sync.Mutex with a waiter
// queue.
//
// The interesting part is keeping that fat block alive while several
// goroutines might be concurrently chasing a pointer to it, without
// any global registry of "who's currently looking". This is solved
// with *pegs*: whenever a goroutine needs to walk from the handle to
// the fat block, it first installs a small peg struct in the handle
// (replacing whatever was there, via CAS), walks the resulting chain
// of peg -> peg -> ... -> fatMutex down to the end, and then
// collapses the chain back down to a direct pointer at the fat block.
// Collapsing can leave behind a "secondary chain" — a dangling peg, no
// longer reachable from the handle, but still reachable (and hence
// still alive, thanks to the garbage collector) from whichever
// goroutine's local variable is still walking it. The fat block's
// refcount accounts for exactly these secondary-chain references, plus
// queued waiters, plus the current holder's pseudo-reference, plus any
// goroutine parked in a condition-variable wait. Once that refcount
// hits zero and the handle still points directly at the fat block (no
// secondary chains survive), the handle demotes back to a bare word on
// the next unlock.
//
//	                    +-----+     +-----+
//	                    | peg |     | peg |
//	 secondary chain:   +-----+     +-----+
//	                    |next*|---->|next*|--------\
//	                    +-----+     +-----+         v
//	                                          +-----------+
//	 primary chain:                           | fatMutex  |
//	 +--------+   +-----+   +-----+           +-----------+
//	 | Mutex  |   | peg |   | peg |                ^
//	 +--------+   +-----+   +-----+                |
//	 |val   *|--->|next*|-->|next*|----------------/
//	 +--------+   +-----+   +-----+
//
// A Mutex must not be copied after first use. The zero Mutex is
// unlocked and ready to use.
package skinnymutex

import (
	"sync/atomic"
	"unsafe"
)

// Mutex is a space-efficient mutual exclusion lock. Its word occupies
// exactly one unsafe.Pointer; see the package doc for the state
// machine it encodes.
//
// The zero Mutex is valid and unlocked — no constructor call is
// required, matching the static-initialization contract that callers
// migrating from a pthreads-style mutex rely on.
type Mutex struct {
	val unsafe.Pointer // nil | lockedPtr | *peg | *fatMutex
}

// Init exists for API parity with callers migrating from an explicit
// init-before-use convention. Because the zero Mutex already behaves
// identically to one returned from Init, it never needs to be called.
func (m *Mutex) Init() error {
	return nil
}

// Destroy reports whether m is idle (unlocked, no outstanding fat
// block). It returns ErrBusy if m is currently locked or has
// outstanding waiters or pins; destroying a Mutex in that state would
// orphan them.
func (m *Mutex) Destroy() error {
	if atomic.LoadPointer(&m.val) != nil {
		return ErrBusy
	}
	return nil
}

// Lock locks m, blocking until it is available. Lock is not a
// cancellation point: once a goroutine has committed to the blocking
// path, it will not return until it has acquired the mutex.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapPointer(&m.val, nil, lockedPtr) {
		return
	}
	m.lockSlow()
}

func (m *Mutex) lockSlow() {
	for {
		observed := atomic.LoadPointer(&m.val)
		if observed == nil {
			if atomic.CompareAndSwapPointer(&m.val, nil, lockedPtr) {
				return
			}
			continue
		}

		fat, retry := m.acquireFatPinned(observed)
		if retry {
			continue
		}
		m.fatLock(fat)
		return
	}
}

// TryLock attempts to lock m without blocking. It reports whether the
// lock was acquired.
func (m *Mutex) TryLock() bool {
	if atomic.CompareAndSwapPointer(&m.val, nil, lockedPtr) {
		return true
	}
	return m.tryLockSlow()
}

func (m *Mutex) tryLockSlow() bool {
	for {
		observed := atomic.LoadPointer(&m.val)
		if observed == nil {
			if atomic.CompareAndSwapPointer(&m.val, nil, lockedPtr) {
				return true
			}
			continue
		}
		if observed == lockedPtr {
			return false
		}

		fat, retry := m.acquireFatPinned(observed)
		if retry {
			continue
		}
		if fat.held {
			m.fatRelease(fat)
			return false
		}
		fat.held = true
		fat.mu.Unlock()
		return true
	}
}

// Unlock unlocks m. It returns ErrPermission if m is not currently
// locked via the fast path or a fat block that reports it held; this
// mirrors the C original's contract that unlocking a mutex not held by
// the calling goroutine is caller error, not a panic.
func (m *Mutex) Unlock() error {
	if atomic.CompareAndSwapPointer(&m.val, lockedPtr, nil) {
		return nil
	}
	return m.unlockSlow()
}

func (m *Mutex) unlockSlow() error {
	fat, err := m.getFatHeld()
	if err != nil {
		return err
	}
	fat.held = false
	if fat.waiters > 0 {
		fat.cond.Signal()
	}
	m.fatRelease(fat)
	return nil
}
