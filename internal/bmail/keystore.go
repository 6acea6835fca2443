package bmail

// KeyStore owns the local identity's key pair. The private key never crosses
// this boundary: other components see only the public key, and decryption is
// reached through the envelope implementation, which borrows the identity
// under the store's own lock. Rotation discards the old key, which makes every
// previously received ciphertext permanently undecryptable; that is the
// documented behavior, not a defect.
type KeyStore interface {
	// PublicKey returns the current public key in the encryption format's
	// textual encoding.
	PublicKey() string

	// Rotate discards the current key pair, generates and persists a fresh
	// one, and returns the new public key. Serialized against in-flight
	// decrypt operations.
	Rotate() (string, error)
}
