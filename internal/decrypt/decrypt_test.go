package decrypt_test

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"strings"
	"testing"

	"grawlix/internal/decrypt"
	"grawlix/internal/errs"
)

func encryptCBC(t *testing.T, key, iv, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext
}

func encryptCTR(t *testing.T, s decrypt.AESCTR, plaintext []byte) []byte {
	t.Helper()
	stream, err := decrypt.NewStream(s)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	// CTR is symmetric; the decrypt stream doubles as the encryptor.
	return stream.Next(plaintext)
}

func TestDecryptCBCRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")

	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"single block", []byte("Hello, World!!!!")},
		{"multi block", bytes.Repeat([]byte("block of data 16"), 5)},
		{"unaligned length", []byte("short")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext := encryptCBC(t, key, iv, tc.plaintext)
			got, err := decrypt.Decrypt(decrypt.AESCBC{Key: key, IV: iv}, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Errorf("round trip mismatch: got %q want %q", got, tc.plaintext)
			}
		})
	}
}

func TestDecryptCBCKnownVector(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	plaintext := []byte("exactly 32 bytes of plaintext!!!")
	if len(plaintext) != 32 {
		t.Fatalf("fixture length %d, want 32", len(plaintext))
	}

	ciphertext := encryptCBC(t, key, iv, plaintext)
	// 32 bytes of data plus one full padding block.
	if len(ciphertext) != 48 {
		t.Fatalf("ciphertext length %d, want 48", len(ciphertext))
	}
	got, err := decrypt.Decrypt(decrypt.AESCBC{Key: key, IV: iv}, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("got %q want %q", got, plaintext)
	}
}

func TestDecryptCBCWrongKeyFails(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	ciphertext := encryptCBC(t, key, iv, []byte("some secret content here"))

	_, err := decrypt.Decrypt(decrypt.AESCBC{Key: []byte("xxxxxxxxxxxxxxxx"), IV: iv}, ciphertext)
	if !errors.Is(err, errs.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for wrong key, got %v", err)
	}
}

func TestDecryptCBCRejectsUnalignedInput(t *testing.T) {
	_, err := decrypt.Decrypt(decrypt.AESCBC{Key: []byte("0123456789abcdef"), IV: []byte("fedcba9876543210")}, []byte("15 bytes long!!"))
	if !errors.Is(err, errs.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for unaligned input, got %v", err)
	}
}

func TestDecryptCBCRejectsBadPadding(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := []byte("fedcba9876543210")
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	// 16-byte block whose final byte claims 3 padding bytes that don't match.
	padded := []byte("AAAAAAAAAAAAA\x01\x02\x03")
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	_, err = decrypt.Decrypt(decrypt.AESCBC{Key: key, IV: iv}, ciphertext)
	if !errors.Is(err, errs.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for bad padding, got %v", err)
	}
}

func TestDecryptCTRRoundTrip(t *testing.T) {
	scheme := decrypt.AESCTR{
		Key:          []byte("sixteen byte key"),
		Nonce:        []byte("12345678"),
		InitialValue: []byte("87654321"),
	}

	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"unaligned", []byte("Any length works")},
		{"multi block", bytes.Repeat([]byte("Large data "), 1000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext := encryptCTR(t, scheme, tc.plaintext)
			got, err := decrypt.Decrypt(scheme, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Errorf("round trip mismatch")
			}
		})
	}
}

func TestStreamDecryptsSequentialChunks(t *testing.T) {
	scheme := decrypt.AESCTR{Key: []byte("sixteen byte key"), Nonce: []byte("nonce123")}
	plaintext := bytes.Repeat([]byte("chunked content "), 64)
	ciphertext := encryptCTR(t, scheme, plaintext)

	stream, err := decrypt.NewStream(scheme)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	var got []byte
	for _, size := range []int{1, 15, 16, 17, 0, 100} {
		if size > len(ciphertext) {
			size = len(ciphertext)
		}
		got = append(got, stream.Next(ciphertext[:size])...)
		ciphertext = ciphertext[size:]
	}
	got = append(got, stream.Next(ciphertext)...)
	if !bytes.Equal(got, plaintext) {
		t.Errorf("chunked decryption mismatch")
	}
}

func TestDecryptXOR(t *testing.T) {
	cases := []struct {
		name      string
		key       []byte
		plaintext []byte
	}{
		{"single byte key", []byte{0x5a}, []byte("repeating xor")},
		{"longer key", []byte("secret"), bytes.Repeat([]byte("payload "), 40)},
		{"empty input", []byte("k"), []byte{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := decrypt.Decrypt(decrypt.XOR{Key: tc.key}, tc.plaintext)
			if err != nil {
				t.Fatalf("encrypt via Decrypt: %v", err)
			}
			got, err := decrypt.Decrypt(decrypt.XOR{Key: tc.key}, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Errorf("round trip mismatch")
			}
			if len(got) != len(tc.plaintext) {
				t.Errorf("length changed: got %d want %d", len(got), len(tc.plaintext))
			}
		})
	}
}

func TestDecryptNilSchemeIsIdentity(t *testing.T) {
	data := []byte("plain bytes")
	got, err := decrypt.Decrypt(nil, data)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("identity violated")
	}
}

func TestSchemesRedactKeyMaterial(t *testing.T) {
	key := []byte("super secret key")
	schemes := []decrypt.Scheme{
		decrypt.AESCBC{Key: key, IV: []byte("fedcba9876543210")},
		decrypt.AESCTR{Key: key, Nonce: []byte("12345678")},
		decrypt.XOR{Key: key},
	}
	for _, s := range schemes {
		for _, rendered := range []string{s.String(), fmt.Sprintf("%v", s), s.LogValue().String()} {
			if strings.Contains(rendered, "secret") {
				t.Errorf("%T leaks key material: %q", s, rendered)
			}
		}
	}
}
