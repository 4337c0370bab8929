package migrate

import "strings"

// KeyPrefix marks the legacy keys that are migrated. It drives the scan
// filter, the cleanup delete and the completion guard.
const KeyPrefix = "rapid-"

// KeyLister enumerates the keys of a destination store
type KeyLister interface {
	Keys() []string
}

// HasMigrated reports whether any destination key starts with prefix. A
// manually written key with the prefix also counts.
func HasMigrated(store KeyLister, prefix string) bool {
	for _, k := range store.Keys() {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}
