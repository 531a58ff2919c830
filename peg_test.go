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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestSubRefAndTest(t *testing.T) {
	var refcount uint32 = 2
	assert.True(t, subRefAndTest(&refcount, 1))
	assert.Equal(t, uint32(1), refcount)
	assert.False(t, subRefAndTest(&refcount, 1))
	assert.Equal(t, uint32(0), refcount)
}

func TestUnpromoted(t *testing.T) {
	assert.True(t, unpromoted(nil))
	assert.True(t, unpromoted(lockedPtr))

	fat := newFatMutex(false)
	assert.False(t, unpromoted(unsafe.Pointer(fat)))
}

func TestTagOf(t *testing.T) {
	fat := newFatMutex(false)
	assert.Equal(t, tagFat, tagOf(unsafe.Pointer(fat)))

	pg := &peg{header: header{tag: tagPeg}}
	assert.Equal(t, tagPeg, tagOf(unsafe.Pointer(pg)))
}

// TestInstallPegOntoBareFat exercises installPeg's handling of the
// degenerate single-link chain: a handle that already points directly
// at a fat block. The collapse should return the same fat block,
// locked, with the handle still pointing directly at it afterward.
func TestInstallPegOntoBareFat(t *testing.T) {
	var m Mutex
	fat := newFatMutex(false)
	m.val = unsafe.Pointer(fat)

	got, retry := m.installPeg(unsafe.Pointer(fat))
	assert.False(t, retry)
	assert.Same(t, fat, got)
	assert.Equal(t, unsafe.Pointer(fat), m.val)

	got.mu.Unlock()
}

// TestInstallPegRetryOnDemotion confirms that if the handle has
// reverted to an unpromoted state by the time installPeg tries to CAS
// its peg in, installPeg reports retry rather than operating on stale
// state.
func TestInstallPegRetryOnDemotion(t *testing.T) {
	var m Mutex
	fat := newFatMutex(false)

	// Simulate another goroutine demoting the handle back to UNLOCKED
	// between the caller's read of m.val and the call to installPeg.
	m.val = nil

	_, retry := m.installPeg(unsafe.Pointer(fat))
	assert.True(t, retry)
}
