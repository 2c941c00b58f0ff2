package pgapi

import "time"

// Store is the external key-value rendezvous store contract from spec.md
// §6: a key to bytes map with a blocking Get and a bounded Wait.
type Store interface {
	Set(key string, value []byte) error
	// Get blocks until key is present, then returns its value.
	Get(key string) ([]byte, error)
	// Wait succeeds if every key in keys exists within timeout, else
	// returns an error.
	Wait(keys []string, timeout time.Duration) error
}

// AbortedCommStoreKey builds the store key a watchdog publishes an abort
// marker to, per the schema in spec.md §6.
func AbortedCommStoreKey(hex string) string {
	return "NCCLABORTEDCOMM:" + hex
}
