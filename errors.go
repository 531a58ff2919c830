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

import "errors"

var (
	// ErrBusy is returned by TryLock when the mutex is already held,
	// and by Destroy when the mutex is not idle.
	ErrBusy = errors.New("skinnymutex: busy")

	// ErrPermission is returned by Unlock, CondWait, CondWaitContext,
	// Transfer and VetoTransfer when the mutex is not held. A held
	// Mutex is not associated with a particular goroutine, so these
	// calls succeed from any goroutine while some goroutine holds it.
	ErrPermission = errors.New("skinnymutex: not held by calling goroutine")

	// ErrTimeout is returned by CondWaitContext when ctx's deadline
	// expires before the condition variable is signaled. The mutex is
	// re-acquired before this error is returned.
	ErrTimeout = errors.New("skinnymutex: condition wait deadline exceeded")

	// ErrVetoed is returned by Transfer when a concurrent
	// VetoTransfer call on dst fires while this goroutine is waiting
	// for ownership of dst. The source mutex is still held.
	ErrVetoed = errors.New("skinnymutex: transfer vetoed")
)

// WaitError wraps a cancellation (or other failure) observed while
// blocked inside a condition-variable wait. The mutex is left
// observably held when this error is returned, matching the
// conventional mutex/cond-var contract that a failed wait does not
// silently drop the lock out from under cleanup code.
type WaitError struct {
	Err error
}

func (e *WaitError) Error() string {
	return "skinnymutex: condition wait failed: " + e.Err.Error()
}

func (e *WaitError) Unwrap() error {
	return e.Err
}
