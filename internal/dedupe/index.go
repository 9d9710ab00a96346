// Package dedupe maintains the inverted hardware-fingerprint index used for
// duplicate detection. The index is a derived read-mostly cache: it is
// rebuilt from persisted state at startup and updated incrementally on every
// verification write or delete, replacing the linear scan the naive design
// would need. No false negatives are tolerated; false positives cannot occur
// because entries are only ever added for existing records.
package dedupe

import (
	"sort"
	"sync"

	"warden/internal/store"
)

// Index maps hwid to the set of user ids currently verified with it.
type Index struct {
	mu     sync.RWMutex
	byHWID map[string]map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{byHWID: make(map[string]map[string]struct{})}
}

// Rebuild replaces the index contents from persisted state.
func (i *Index) Rebuild(state *store.State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.byHWID = make(map[string]map[string]struct{}, len(state.Verifications))
	for userID, rec := range state.Verifications {
		i.addLocked(rec.HWID, userID)
	}
}

// Add registers a verification record's fingerprint.
func (i *Index) Add(hwid, userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.addLocked(hwid, userID)
}

// Remove unregisters a deleted or overwritten record.
func (i *Index) Remove(hwid, userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	users, ok := i.byHWID[hwid]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(i.byHWID, hwid)
	}
}

// IndexOf returns every user id verified with the fingerprint, sorted for
// deterministic output.
func (i *Index) IndexOf(hwid string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return sorted(i.byHWID[hwid], "")
}

// CheckDuplicate returns the users other than excludingUserID that hold the
// fingerprint. A non-empty result means the submission must be flagged, never
// silently overwritten.
func (i *Index) CheckDuplicate(hwid, excludingUserID string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return sorted(i.byHWID[hwid], excludingUserID)
}

func (i *Index) addLocked(hwid, userID string) {
	users, ok := i.byHWID[hwid]
	if !ok {
		users = make(map[string]struct{})
		i.byHWID[hwid] = users
	}
	users[userID] = struct{}{}
}

func sorted(users map[string]struct{}, excluding string) []string {
	out := make([]string, 0, len(users))
	for userID := range users {
		if userID != excluding {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}
