package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControl(t *testing.T) {
	c := NewControl()
	assert.False(t, c.Cancelled())
	assert.False(t, c.Paused())

	c.Pause()
	assert.True(t, c.Paused())
	c.Resume()
	assert.False(t, c.Paused())

	c.Cancel("first")
	c.Cancel("second")
	assert.True(t, c.Cancelled())
	assert.Equal(t, "first", c.Reason())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ctl := NewControl()
	r.Register("job-1", "run-1", ctl, time.Now())
	r.Register("job-2", "run-2", NewControl(), time.Now())

	got, ok := r.Control("job-1")
	assert.True(t, ok)
	assert.Same(t, ctl, got)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, r.JobIDs())
	assert.ElementsMatch(t, []string{"run-1", "run-2"}, r.RunIDs())

	r.Unregister("job-1")
	_, ok = r.Control("job-1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}
