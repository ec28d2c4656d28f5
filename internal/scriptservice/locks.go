package scriptservice

import "sync"

// keyedMutex serializes ledger-mutating operations per script identity.
// The fetch→dedup→insert/bump sequence in Load must not interleave with a
// concurrent Save or another Load for the same identity, otherwise the
// read-check-act dedup can double-insert a remote-sync row. Distinct
// identities proceed in parallel.
//
// Entries are retained for the process lifetime; the key space is the set
// of scripts a user actually edits, so no eviction is needed.
type keyedMutex struct {
	mu   sync.Mutex
	held map[string]*sync.Mutex
}

// lock acquires the mutex for key and returns its unlock func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.held == nil {
		k.held = make(map[string]*sync.Mutex)
	}
	m, ok := k.held[key]
	if !ok {
		m = &sync.Mutex{}
		k.held[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
