package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPoolReuse(t *testing.T) {
	timer := GetTimer(time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	PutTimer(timer)

	// a reused timer must be re-armed for the new duration
	timer = GetTimer(time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("reused timer did not fire")
	}
	PutTimer(timer)
}

func TestTimerPoolPutActive(t *testing.T) {
	timer := GetTimer(time.Hour)
	// returning an unfired timer must stop it without blocking
	PutTimer(timer)

	timer = GetTimer(10 * time.Millisecond)
	select {
	case <-timer.C:
	case <-time.After(time.Second):
		t.Fatal("timer armed after active put did not fire")
	}
	PutTimer(timer)

	require.NotNil(t, timer)
}
