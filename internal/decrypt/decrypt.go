// Package decrypt implements the cipher schemes used to protect downloaded
// content units: AES-CBC with PKCS7 padding, AES-CTR, and repeating-key XOR.
//
// Scheme values carry raw key material and therefore redact themselves when
// printed or logged.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"log/slog"

	"grawlix/internal/errs"
)

// Scheme describes how a single content unit is encrypted. A nil Scheme
// means the unit is plaintext.
type Scheme interface {
	fmt.Stringer
	slog.LogValuer

	scheme() string
}

// AESCBC decrypts AES in CBC mode and strips PKCS7 padding.
type AESCBC struct {
	Key []byte
	IV  []byte
}

// AESCTR decrypts AES in CTR mode. The counter block is Nonce followed by
// InitialValue, together exactly one AES block; a short or absent
// InitialValue is zero-filled on the left.
type AESCTR struct {
	Key          []byte
	Nonce        []byte
	InitialValue []byte
}

// XOR decrypts with a repeating key.
type XOR struct {
	Key []byte
}

func (AESCBC) scheme() string { return "aes-cbc" }
func (AESCTR) scheme() string { return "aes-ctr" }
func (XOR) scheme() string    { return "xor" }

func (e AESCBC) String() string { return redacted(e) }
func (e AESCTR) String() string { return redacted(e) }
func (e XOR) String() string    { return redacted(e) }

func (e AESCBC) LogValue() slog.Value { return slog.StringValue(redacted(e)) }
func (e AESCTR) LogValue() slog.Value { return slog.StringValue(redacted(e)) }
func (e XOR) LogValue() slog.Value    { return slog.StringValue(redacted(e)) }

func redacted(s Scheme) string { return s.scheme() + "(redacted)" }

// Decrypt transforms ciphertext into plaintext according to scheme. A nil
// scheme is the identity. The input slice is never modified.
func Decrypt(scheme Scheme, ciphertext []byte) ([]byte, error) {
	switch s := scheme.(type) {
	case nil:
		return ciphertext, nil
	case AESCBC:
		return decryptCBC(s, ciphertext)
	case AESCTR:
		stream, err := NewStream(s)
		if err != nil {
			return nil, err
		}
		return stream.Next(ciphertext), nil
	case XOR:
		return decryptXOR(s.Key, ciphertext)
	default:
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "select scheme", fmt.Sprintf("unknown scheme %q", s.scheme()), nil)
	}
}

func decryptCBC(s AESCBC, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return []byte{}, nil
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "aes-cbc", fmt.Sprintf("ciphertext length %d is not block aligned", len(ciphertext)), nil)
	}
	block, err := aes.NewCipher(s.Key)
	if err != nil {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "aes-cbc", "invalid key", err)
	}
	if len(s.IV) != aes.BlockSize {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "aes-cbc", fmt.Sprintf("iv length %d, want %d", len(s.IV), aes.BlockSize), nil)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, s.IV).CryptBlocks(plaintext, ciphertext)
	return stripPKCS7(plaintext)
}

// stripPKCS7 removes PKCS7 padding, rejecting anything malformed. Invalid
// padding is the primary signal of a wrong key, so it must never pass
// through silently.
func stripPKCS7(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n == 0 || n%aes.BlockSize != 0 {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "pkcs7", "plaintext not block aligned", nil)
	}
	pad := int(plaintext[n-1])
	if pad < 1 || pad > aes.BlockSize {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "pkcs7", "invalid padding length", nil)
	}
	for _, b := range plaintext[n-pad:] {
		if int(b) != pad {
			return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "pkcs7", "padding bytes do not match padding length", nil)
		}
	}
	return plaintext[:n-pad], nil
}

func decryptXOR(key, ciphertext []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "xor", "empty key", nil)
	}
	plaintext := make([]byte, len(ciphertext))
	for i, b := range ciphertext {
		plaintext[i] = b ^ key[i%len(key)]
	}
	return plaintext, nil
}

// Stream decrypts sequential chunks of a single AES-CTR unit without
// re-deriving earlier keystream. A Stream belongs to exactly one unit and
// must not be shared across goroutines.
type Stream struct {
	stream cipher.Stream
}

// NewStream builds the keystream state for one unit.
func NewStream(s AESCTR) (*Stream, error) {
	block, err := aes.NewCipher(s.Key)
	if err != nil {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "aes-ctr", "invalid key", err)
	}
	counter, err := counterBlock(s.Nonce, s.InitialValue)
	if err != nil {
		return nil, err
	}
	return &Stream{stream: cipher.NewCTR(block, counter)}, nil
}

// Next decrypts the next sequential chunk. Zero-length chunks are fine.
func (s *Stream) Next(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	s.stream.XORKeyStream(out, chunk)
	return out
}

func counterBlock(nonce, initial []byte) ([]byte, error) {
	if len(nonce) > aes.BlockSize {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "aes-ctr", fmt.Sprintf("nonce length %d exceeds block size", len(nonce)), nil)
	}
	counterLen := aes.BlockSize - len(nonce)
	if len(initial) > counterLen {
		return nil, errs.Wrap(errs.ErrDecryption, "decrypt", "aes-ctr", fmt.Sprintf("initial value length %d exceeds counter width %d", len(initial), counterLen), nil)
	}
	block := make([]byte, aes.BlockSize)
	copy(block, nonce)
	// Right-align the initial value so it reads as a big-endian counter.
	copy(block[aes.BlockSize-len(initial):], initial)
	return block, nil
}
