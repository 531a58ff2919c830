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
	"sync/atomic"
	"unsafe"
)

// peg is a transient shield a goroutine installs on a Mutex's word so
// that it may safely chase a chain of pointers down to the fat block
// without that block being reclaimed out from under it, without any
// global hazard-pointer table.
//
// refcount starts at 2: one reference for the allocating goroutine's
// own local variable, one for the pointer to this peg held by the
// handle (or, once another peg is installed on top, by that peg's
// next field). It never exceeds 2.
type peg struct {
	header

	refcount uint32
	next     unsafe.Pointer // *peg or *fatMutex
}

// subRefAndTest atomically subtracts n from *p and reports whether any
// references remain afterward. This mirrors the "decrement, return
// whether the result is still nonzero" primitive the algorithm is
// built on: a false return means the caller just dropped the last
// reference and the node is now unreachable (safe for the GC to
// collect; nothing further to free by hand).
func subRefAndTest(p *uint32, n uint32) bool {
	return atomic.AddUint32(p, ^(n - 1)) != 0
}

// installPeg implements the peg-install-and-collapse protocol of
// §4.4: given observed (a *peg or *fatMutex previously read from
// m.val), it installs a new peg ahead of observed, walks the
// resulting chain down to the terminal fat block, locks it, and then
// collapses the primary chain back down to a direct pointer at the
// fat block — releasing references along the way and leaving behind a
// secondary chain (accounted for in fat.refcount) wherever some other
// goroutine's peg is still needed.
//
// retry is true if, by the time this goroutine tried to install its
// peg, the handle had reverted to UNLOCKED or LOCKED_FAST (meaning the
// fat block this peg would have chased was already torn down); the
// caller should re-read m.val and start over.
func (m *Mutex) installPeg(observed unsafe.Pointer) (fat *fatMutex, retry bool) {
	pg := &peg{refcount: 2, next: observed}
	pg.tag = tagPeg

	for !atomic.CompareAndSwapPointer(&m.val, observed, unsafe.Pointer(pg)) {
		observed = atomic.LoadPointer(&m.val)
		if unpromoted(observed) {
			return nil, true
		}
		pg.next = observed
	}

	// pg is now reachable from the handle (possibly buried under
	// further pegs installed by other goroutines in the meantime).
	// Walk down to the fat block terminating the chain.
	cur := observed
	for tagOf(cur) == tagPeg {
		cur = (*peg)(cur).next
	}
	fat = (*fatMutex)(cur)
	fat.mu.Lock()

	// Collapse the primary chain to a direct pointer at fat. This
	// creates at most one new secondary-chain reference, which is why
	// we pre-increment refcount; the walk below corrects it back down
	// if no secondary chain actually survives.
	old := atomic.SwapPointer(&m.val, unsafe.Pointer(fat))
	atomic.AddUint64(&fat.refcount, 1)

	p := old
	var decr uint32
	for {
		decr = 2
		if p == unsafe.Pointer(pg) {
			break
		}
		decr = 1
		if p == unsafe.Pointer(fat) {
			atomic.AddUint64(&fat.refcount, ^uint64(0))
			break
		}
		other := (*peg)(p)
		if subRefAndTest(&other.refcount, 1) {
			// Reference remains on other: a secondary chain
			// survives starting here.
			break
		}
		p = other.next
	}

	// Release our own peg: by 2 (the handle's reference and ours) if
	// the loop above reached pg, or by 1 if it bottomed out at fat
	// without reaching pg — which only happens when some other
	// goroutine's collapse already walked through pg on our behalf.
	// Then keep walking down the chain while references drop to zero.
	cur2 := pg
	for {
		if subRefAndTest(&cur2.refcount, decr) {
			break
		}
		next := cur2.next
		if next == unsafe.Pointer(fat) {
			atomic.AddUint64(&fat.refcount, ^uint64(0))
			break
		}
		cur2 = (*peg)(next)
		decr = 1
	}

	return fat, false
}
