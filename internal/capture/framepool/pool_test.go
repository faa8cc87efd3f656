package framepool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phongnguyenrvn1995/Android-Record-Screen-Sample/internal/capture/core"
)

func newFrame(id int, released *atomic.Int32) *core.RawFrame {
	return core.NewRawFrame([]byte{byte(id)}, 1, 1, 4, 4, core.PixelFormatRGBA8888, func() {
		if released != nil {
			released.Add(1)
		}
	})
}

func TestPoolDeliversAndReleases(t *testing.T) {
	var released atomic.Int32
	got := make(chan byte, 4)
	p := New(DefaultCapacity, func(f *core.RawFrame) {
		got <- f.Data[0]
	}, nil)
	p.Start()
	defer p.Close()

	p.Submit(newFrame(7, &released))

	select {
	case id := <-got:
		assert.Equal(t, byte(7), id)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
	require.Eventually(t, func() bool { return released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestPoolLatestWins(t *testing.T) {
	var released atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var mu sync.Mutex
	var seen []byte

	p := New(DefaultCapacity, func(f *core.RawFrame) {
		mu.Lock()
		seen = append(seen, f.Data[0])
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-unblock
		}
	}, nil)
	p.Start()

	p.Submit(newFrame(1, &released))
	<-entered

	// Only one slot is free while frame 1 is held by the handler.
	p.Submit(newFrame(2, &released))
	p.Submit(newFrame(3, &released))
	p.Submit(newFrame(4, &released))
	assert.Equal(t, int32(2), released.Load(), "frames 2 and 3 should be dropped")

	close(unblock)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)

	p.Close()
	assert.Equal(t, []byte{1, 4}, seen)
	assert.Equal(t, int32(4), released.Load())

	stats := p.Stats()
	assert.Equal(t, uint64(4), stats.Submitted)
	assert.Equal(t, uint64(2), stats.Delivered)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestPoolCloseReleasesEverything(t *testing.T) {
	var released atomic.Int32
	p := New(DefaultCapacity, nil, nil)

	p.Submit(newFrame(1, &released))
	p.Submit(newFrame(2, &released))
	p.Submit(newFrame(3, &released))
	assert.Equal(t, int32(1), released.Load())

	p.Close()
	assert.Equal(t, int32(3), released.Load())

	p.Submit(newFrame(4, &released))
	assert.Equal(t, int32(4), released.Load(), "submit after close releases immediately")

	p.Close()
}

func TestPoolHandlerPanicReleasesFrame(t *testing.T) {
	var released atomic.Int32
	p := New(1, func(f *core.RawFrame) {
		panic("boom")
	}, nil)
	p.Start()
	defer p.Close()

	p.Submit(newFrame(1, &released))
	require.Eventually(t, func() bool { return released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}
