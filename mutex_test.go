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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

// A zero-valued Mutex must be ready to use, matching the C original's
// static-initialization contract (S1).
func TestZeroValueIsUnlocked(t *testing.T) {
	var m Mutex
	m.Lock()
	assert.NoError(t, m.Unlock())
}

func TestLockUnlock(t *testing.T) {
	var m Mutex
	assert.NoError(t, m.Init())
	m.Lock()
	m.Unlock()
	m.Lock()
	m.Unlock()
	assert.NoError(t, m.Destroy())
}

// TestContention bumps a shared counter from 10 goroutines, each doing
// many lock/increment/unlock cycles, and checks the final count is
// exactly the expected total — any lost update means the mutual
// exclusion was broken (S3).
func TestContention(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 1000

	var m Mutex
	var counter int

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			for j := 0; j < perGoroutine; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	assert.Equal(t, goroutines*perGoroutine, counter)
}

// TestLockNotACancellationPoint spawns a goroutine that waits for a
// context to be cancelled and then calls Lock on an already-held
// mutex; Lock has no way to observe the cancellation and must still
// only return once it actually holds the mutex (S4/§"Cancellation:
// lock acquisition is not a cancellation point").
func TestLockNotACancellationPoint(t *testing.T) {
	var m Mutex
	m.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan struct{})
	go func() {
		<-ctx.Done()
		m.Lock()
		close(acquired)
	}()

	cancel()
	time.Sleep(5 * time.Millisecond)

	select {
	case <-acquired:
		t.Fatal("Lock returned before the mutex was released")
	default:
	}

	m.Unlock()
	<-acquired
	m.Unlock()
}

func TestTryLockBusy(t *testing.T) {
	var m Mutex
	assert.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	assert.NoError(t, m.Unlock())
	assert.True(t, m.TryLock())
	assert.NoError(t, m.Unlock())
}

func TestUnlockNotHeldReturnsPermissionError(t *testing.T) {
	var m Mutex
	assert.Equal(t, ErrPermission, m.Unlock())
}

func TestDestroyBusy(t *testing.T) {
	var m Mutex
	m.Lock()
	assert.Equal(t, ErrBusy, m.Destroy())
	m.Unlock()
	assert.NoError(t, m.Destroy())
}

// TestPegSurvivesConcurrentCollapse hammers a single mutex with many
// goroutines simultaneously, forcing repeated promotion and pegging,
// and checks that no goroutine ever observes two concurrent holders
// (guarded by a plain sync.Mutex as an independent oracle).
func TestPegSurvivesConcurrentCollapse(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 200

	var m Mutex
	var oracle sync.Mutex
	held := false

	var g errgroup.Group
	for i := 0; i < goroutines; i++ {
		g.Go(func() error {
			for j := 0; j < perGoroutine; j++ {
				m.Lock()
				oracle.Lock()
				if held {
					oracle.Unlock()
					t.Error("double hold detected")
					m.Unlock()
					return nil
				}
				held = true
				oracle.Unlock()

				oracle.Lock()
				held = false
				oracle.Unlock()
				m.Unlock()
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
}
