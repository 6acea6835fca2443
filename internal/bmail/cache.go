package bmail

// KeyCache stores fetched public keys by DID. Entries are advisory snapshots;
// the directory decides freshness. Writes are last-fetched-wins per key:
// a losing concurrent writer never merges stale fields into a fresh entry.
// Implementations must allow concurrent readers.
type KeyCache interface {
	// Get returns the cached record for a DID, or ok=false when absent.
	Get(did string) (*PublicKeyRecord, bool, error)

	// Put stores a record, replacing any previous entry for the same DID.
	Put(record *PublicKeyRecord) error

	// Delete removes a DID's entry, if present.
	Delete(did string) error

	// Close releases any underlying resources.
	Close() error
}
