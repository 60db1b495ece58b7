package driven

import "errors"

// ErrDecryption is wrapped by every Cipher.Decrypt failure: a malformed
// envelope or one sealed under a different key.
var ErrDecryption = errors.New("credential decryption failed")

// ErrEncryptionKeyNotSet is returned when the process was started without
// SYSKEYS_SECRET_KEY or a passphrase to derive one from.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set SYSKEYS_SECRET_KEY")

// Cipher seals and opens secret material. Implementations are stateless
// and perform no I/O.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	// Decrypt returns an error wrapping ErrDecryption when the envelope cannot be opened.
	Decrypt(envelope string) (string, error)
	// Hint returns a short, irreversible display fragment of plaintext.
	Hint(plaintext string) string
}
