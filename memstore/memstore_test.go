package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("k", []byte("v")))
	v, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestGetBlocksUntilSet(t *testing.T) {
	s := New()
	done := make(chan []byte, 1)
	go func() {
		v, err := s.Get("late")
		assert.NoError(t, err)
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Get returned before Set")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, s.Set("late", []byte("arrived")))
	select {
	case v := <-done:
		assert.Equal(t, []byte("arrived"), v)
	case <-time.After(time.Second):
		t.Fatal("Get never unblocked after Set")
	}
}

func TestWaitSucceedsWhenAllKeysPresent(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("a", []byte("1")))
	require.NoError(t, s.Set("b", []byte("2")))
	assert.NoError(t, s.Wait([]string{"a", "b"}, time.Second))
}

func TestWaitTimesOutWhenKeyMissing(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("a", []byte("1")))
	err := s.Wait([]string{"a", "never"}, 20*time.Millisecond)
	assert.Error(t, err)
}

func TestWaitUnblocksOnLateSet(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Set("late", []byte("1"))
	}()
	assert.NoError(t, s.Wait([]string{"late"}, time.Second))
}
