package filter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	values []string
	done   chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{}, 16)}
}

func (c *collector) record(v string) {
	c.mu.Lock()
	c.values = append(c.values, v)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.values...)
}

func TestDebouncer_SingleFireForBurst(t *testing.T) {
	c := newCollector()
	d := NewDebouncer(MinDebounce, c.record)
	defer d.Stop()

	d.Trigger("A")
	time.Sleep(100 * time.Millisecond)
	d.Trigger("AB")
	time.Sleep(100 * time.Millisecond)
	d.Trigger("ABC")

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}
	// nothing else may arrive after the settle window
	time.Sleep(MinDebounce + 100*time.Millisecond)
	assert.Equal(t, []string{"ABC"}, c.snapshot())
}

func TestDebouncer_EnforcesMinimumDelay(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, func(string) {})
	assert.Equal(t, MinDebounce, d.Delay())

	d = NewDebouncer(time.Second, func(string) {})
	assert.Equal(t, time.Second, d.Delay())
}

func TestDebouncer_Flush(t *testing.T) {
	c := newCollector()
	d := NewDebouncer(time.Hour, c.record)
	defer d.Stop()

	d.Trigger("x")
	d.Flush()
	require.Equal(t, []string{"x"}, c.snapshot())

	// flushing with nothing pending is a no-op
	d.Flush()
	assert.Equal(t, []string{"x"}, c.snapshot())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	c := newCollector()
	d := NewDebouncer(MinDebounce, c.record)

	d.Trigger("x")
	d.Stop()
	d.Trigger("y")

	time.Sleep(MinDebounce + 150*time.Millisecond)
	assert.Empty(t, c.snapshot())
}
