package bmail

// Envelope wraps the file encryption primitive. Sealing is done once for the
// whole recipient set, producing a single multi-recipient ciphertext, never
// one ciphertext per recipient, which would fork a logical message into N
// divergent copies.
type Envelope interface {
	// Seal encrypts plaintext so that every listed recipient, and only them,
	// can open it. The key set must be non-empty.
	Seal(plaintext []byte, recipientKeys []string) ([]byte, error)

	// Open decrypts a ciphertext with the local private key. Returns an error
	// wrapping ErrDecryptFailed when the local key is not among the
	// envelope's recipients; callers decide from context whether that is
	// benign ("not mine") or reportable (we were listed as a recipient).
	Open(ciphertext []byte) ([]byte, error)
}
