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

import "unsafe"

// header is the common prefix shared by peg and fatMutex, mirroring a
// tagged union: given any non-sentinel value out of Mutex.val, reading
// the tag byte at this offset tells us which of the two node kinds we
// are looking at, without knowing which one in advance.
type header struct {
	tag uint8
}

const (
	tagFat uint8 = 0
	tagPeg uint8 = 1
)

// lockedSentinel is never dereferenced; only its address is used, as
// the LOCKED_FAST encoding of Mutex.val. A real package-level variable
// is used here rather than the bit pattern 1, which the pthreads
// original uses: a Go unsafe.Pointer holding an address that isn't a
// live object's address is undefined behavior under the garbage
// collector, whereas the address of a variable that will never move or
// be collected is always safe to store, compare, and load atomically.
var lockedSentinel byte

var lockedPtr = unsafe.Pointer(&lockedSentinel)

// unpromoted reports whether p represents one of the two word-only
// states (UNLOCKED or LOCKED_FAST), i.e. no fat block has been
// allocated for this handle yet.
func unpromoted(p unsafe.Pointer) bool {
	return p == nil || p == lockedPtr
}

// tagOf reads the tag byte out of a non-sentinel, non-nil pointer
// previously stored in a Mutex.val: either a *peg or a *fatMutex.
func tagOf(p unsafe.Pointer) uint8 {
	return (*header)(p).tag
}
