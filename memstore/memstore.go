// Package memstore is an in-process pgapi.Store: a single shared map
// guarded by a mutex and condition variable, standing in for the real
// rendezvous store (etcd, a TCP store, a file store) that UniqueId
// broadcast and watchdog abort propagation run over. It is shared by every
// simulated rank in one process the same way the real store is shared by
// every process in a job.
package memstore

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"distcomm/pgapi"
)

var _ pgapi.Store = (*Store)(nil)

// Store is a pgapi.Store backed by an in-memory map. The zero value is not
// usable; construct with New.
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond
	data map[string][]byte
}

func New() *Store {
	s := &Store{data: make(map[string][]byte)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	s.cond.Broadcast()
	return nil
}

// Get blocks until key is present, then returns a copy of its value.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if v, ok := s.data[key]; ok {
			return append([]byte(nil), v...), nil
		}
		s.cond.Wait()
	}
}

// Wait succeeds once every key in keys is present, or returns a timeout
// error once timeout elapses first.
func (s *Store) Wait(keys []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for !s.hasAllLocked(keys) {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return
			}
			s.waitWithTimeoutLocked(remaining)
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("memstore: timed out after %s waiting for keys %v", timeout, keys)
	}
}

func (s *Store) hasAllLocked(keys []string) bool {
	for _, k := range keys {
		if _, ok := s.data[k]; !ok {
			return false
		}
	}
	return true
}

// waitWithTimeoutLocked wakes s.cond.Wait early after d by broadcasting
// from a timer goroutine, since sync.Cond has no native timeout.
func (s *Store) waitWithTimeoutLocked(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}
