package crypto

import (
	"bytes"
	"strings"
	"testing"
)

// testKey returns a valid 32-byte key for use in tests.
func testKey() []byte {
	return bytes.Repeat([]byte("k"), 32)
}

func TestNewSecretCipher(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		sc, err := NewSecretCipher(testKey())
		if err != nil {
			t.Fatalf("NewSecretCipher() unexpected error: %v", err)
		}
		if sc == nil {
			t.Fatal("NewSecretCipher() returned nil cipher")
		}
	})

	tests := []struct {
		name    string
		keyLen  int
		wantErr error
	}{
		{"too short (16 bytes)", 16, ErrKeyLengthInvalid},
		{"too long (64 bytes)", 64, ErrKeyLengthInvalid},
		{"empty key", 0, ErrKeyLengthInvalid},
		{"31 bytes", 31, ErrKeyLengthInvalid},
		{"33 bytes", 33, ErrKeyLengthInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecretCipher(make([]byte, tt.keyLen))
			if err != tt.wantErr {
				t.Errorf("NewSecretCipher(len=%d) error = %v, want %v", tt.keyLen, err, tt.wantErr)
			}
		})
	}
}

func TestNewSecretCipherIsolatesKey(t *testing.T) {
	// Modifying the original key slice must not affect the cipher.
	key := testKey()
	sc, err := NewSecretCipher(key)
	if err != nil {
		t.Fatalf("NewSecretCipher() error: %v", err)
	}
	plaintext := "jwt-signing-secret"
	sealed, _ := sc.Seal(plaintext)

	for i := range key {
		key[i] = 0
	}

	got, err := sc.Open(sealed)
	if err != nil {
		t.Errorf("Open() after key corruption error: %v", err)
	}
	if got != plaintext {
		t.Errorf("Open() = %q, want %q", got, plaintext)
	}
}

func TestDeriveSecretCipher(t *testing.T) {
	t.Run("valid passphrase and salt", func(t *testing.T) {
		salt := bytes.Repeat([]byte("s"), 16)
		sc, err := DeriveSecretCipher("my-secret-passphrase", salt, 100000)
		if err != nil {
			t.Fatalf("DeriveSecretCipher() unexpected error: %v", err)
		}
		if sc == nil {
			t.Fatal("DeriveSecretCipher() returned nil")
		}
	})

	t.Run("salt too short", func(t *testing.T) {
		_, err := DeriveSecretCipher("passphrase", make([]byte, 8), 100000)
		if err != ErrSaltTooShort {
			t.Errorf("DeriveSecretCipher() error = %v, want %v", err, ErrSaltTooShort)
		}
	})

	t.Run("different passphrases produce different ciphers", func(t *testing.T) {
		salt := bytes.Repeat([]byte("s"), 16)
		sc1, _ := DeriveSecretCipher("passphrase-one", salt, 100000)
		sc2, _ := DeriveSecretCipher("passphrase-two", salt, 100000)

		sealed, _ := sc1.Seal("secret")
		if _, err := sc2.Open(sealed); err == nil {
			t.Error("different-key cipher decrypted ciphertext; expected failure")
		}
	})
}

func TestSealAndOpen(t *testing.T) {
	sc, err := NewSecretCipher(testKey())
	if err != nil {
		t.Fatalf("NewSecretCipher() error: %v", err)
	}

	cases := []string{
		"a",
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		strings.Repeat("x", 4096),
		"with spaces and → unicode ✓",
	}
	for _, plaintext := range cases {
		sealed, err := sc.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal(%q) error: %v", plaintext, err)
		}
		if sealed == plaintext {
			t.Error("Seal() returned plaintext unchanged")
		}
		got, err := sc.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if got != plaintext {
			t.Errorf("round trip = %q, want %q", got, plaintext)
		}
	}
}

func TestSealEmptyString(t *testing.T) {
	sc, _ := NewSecretCipher(testKey())
	sealed, err := sc.Seal("")
	if err != nil {
		t.Fatalf("Seal(\"\") error: %v", err)
	}
	if sealed != "" {
		t.Errorf("Seal(\"\") = %q, want empty string", sealed)
	}
	got, err := sc.Open("")
	if err != nil {
		t.Fatalf("Open(\"\") error: %v", err)
	}
	if got != "" {
		t.Errorf("Open(\"\") = %q, want empty string", got)
	}
}

func TestSealProducesUniqueCiphertexts(t *testing.T) {
	// GCM with a random nonce must never produce the same ciphertext twice.
	sc, _ := NewSecretCipher(testKey())
	a, _ := sc.Seal("same plaintext")
	b, _ := sc.Seal("same plaintext")
	if a == b {
		t.Error("two Seal() calls produced identical ciphertexts")
	}
}

func TestOpenRejectsCorruption(t *testing.T) {
	sc, _ := NewSecretCipher(testKey())

	t.Run("not base64", func(t *testing.T) {
		if _, err := sc.Open("!!! not base64 !!!"); err != ErrCiphertextCorrupted {
			t.Errorf("Open() error = %v, want %v", err, ErrCiphertextCorrupted)
		}
	})

	t.Run("too short for nonce", func(t *testing.T) {
		if _, err := sc.Open("YWJj"); err != ErrCiphertextCorrupted { // "abc"
			t.Errorf("Open() error = %v, want %v", err, ErrCiphertextCorrupted)
		}
	})

	t.Run("flipped byte fails authentication", func(t *testing.T) {
		sealed, _ := sc.Seal("authentic data")
		raw := []byte(sealed)
		raw[len(raw)-5] ^= 'x'
		if _, err := sc.Open(string(raw)); err == nil {
			t.Error("Open() accepted tampered ciphertext")
		}
	})
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	if len(k1) != 32 {
		t.Errorf("len(key) = %d, want 32", len(k1))
	}
	k2, _ := GenerateKey()
	if bytes.Equal(k1, k2) {
		t.Error("two GenerateKey() calls produced identical keys")
	}
}

func TestGenerateSalt(t *testing.T) {
	s, err := GenerateSalt(8) // below minimum, must be bumped to 16
	if err != nil {
		t.Fatalf("GenerateSalt() error: %v", err)
	}
	if len(s) != 16 {
		t.Errorf("len(salt) = %d, want 16", len(s))
	}
}
