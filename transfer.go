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

import "sync/atomic"

// Transfer atomically releases m and blocks until dst is acquired,
// equivalent to "unlock m only once this goroutine can proceed to
// hold dst". The caller must hold m; on success dst is held and m is
// not.
//
// If VetoTransfer(dst) is called by another goroutine while this
// goroutine is waiting, Transfer aborts and returns ErrVetoed; m is
// still held in that case. Transfer is not FIFO with respect to Lock:
// a Transfer waiter and a plain Lock waiter on dst compete on equal
// footing once dst becomes free.
func (m *Mutex) Transfer(dst *Mutex) error {
	srcFat, err := m.getFatHeld()
	if err != nil {
		return err
	}

	for {
		observed := atomic.LoadPointer(&dst.val)
		dstFat, retry := dst.acquireFatPinned(observed)
		if retry {
			continue
		}

		epoch := atomic.LoadUint64(&dstFat.transferEpoch)
		dstFat.transferWaiters++
		dstFat.waiters++
		for dstFat.held && atomic.LoadUint64(&dstFat.transferEpoch) == epoch {
			dstFat.cond.Wait()
		}
		dstFat.waiters--
		dstFat.transferWaiters--

		if atomic.LoadUint64(&dstFat.transferEpoch) != epoch {
			// A veto fired while we waited; src stays held. srcFat.mu
			// has been held by this goroutine since getFatHeld, so
			// releasing it (without clearing held) is all that's
			// needed to let other src operations proceed again.
			dst.fatRelease(dstFat)
			srcFat.mu.Unlock()
			return ErrVetoed
		}

		dstFat.held = true
		dstFat.mu.Unlock()

		srcFat.held = false
		if srcFat.waiters > 0 {
			srcFat.cond.Signal()
		}
		m.fatRelease(srcFat)
		return nil
	}
}

// VetoTransfer wakes every goroutine currently blocked inside a
// Transfer call targeting m, causing each to abort with ErrVetoed. The
// caller must hold m. VetoTransfer does not itself release or acquire
// anything; it only bumps the transfer epoch and broadcasts, so any
// number of concurrent Transfer waiters observe the veto independently.
func (m *Mutex) VetoTransfer() error {
	fat, err := m.getFatHeld()
	if err != nil {
		return err
	}
	atomic.AddUint64(&fat.transferEpoch, 1)
	if fat.transferWaiters > 0 {
		fat.cond.Broadcast()
	}
	fat.mu.Unlock()
	return nil
}
