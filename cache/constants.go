package cache

const (
	// KeyPrefix namespaces every key relay writes to a shared store
	KeyPrefix = "relay:"

	// TokenKey holds the bearer token in bearer deployments
	TokenKey = KeyPrefix + "auth.token"

	// SettingsSnapshotKey holds the last-known-good settings snapshot
	SettingsSnapshotKey = KeyPrefix + "settings.snapshot"

	// SnapshotKeyPrefix prefixes snapshots of other persisted query keys
	SnapshotKeyPrefix = KeyPrefix + "snapshot:"
)

// SnapshotKey returns the store key of the snapshot of a persisted query key.
func SnapshotKey(queryKey string) string {
	return SnapshotKeyPrefix + queryKey
}
