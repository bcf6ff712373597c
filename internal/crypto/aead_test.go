package crypto_test

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/shibaleo/mcpist/internal/crypto"
)

func newTestSealer(t *testing.T, version int) *crypto.Sealer {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	s, err := crypto.NewSealer(base64.StdEncoding.EncodeToString(key), version)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := newTestSealer(t, 1)

	plaintexts := []string{
		"",
		"hello",
		`{"auth_type":"oauth2","access_token":"ya29.secret","refresh_token":"1//r"}`,
		strings.Repeat("x", 10_000),
	}
	for _, plain := range plaintexts {
		blob, err := s.Seal([]byte(plain))
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		got, err := s.Open(blob)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if string(got) != plain {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(plain))
		}
	}
}

func TestSealProducesVersionPrefix(t *testing.T) {
	s := newTestSealer(t, 3)
	blob, err := s.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(blob, "v3:") {
		t.Errorf("blob does not start with v3: prefix")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	s := newTestSealer(t, 1)
	blob, err := s.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	// Flip one character inside the base64 payload.
	i := len(blob) - 2
	tampered := blob[:i] + flip(blob[i:i+1]) + blob[i+1:]
	if _, err := s.Open(tampered); err == nil {
		t.Error("Open() accepted tampered ciphertext")
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	a := newTestSealer(t, 1)
	b := newTestSealer(t, 1)
	blob, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(blob); err == nil {
		t.Error("Open() accepted blob sealed under a different key")
	}
}

func TestKeyringRotation(t *testing.T) {
	old := newTestSealer(t, 1)
	blob, err := old.Seal([]byte("legacy"))
	if err != nil {
		t.Fatal(err)
	}

	active := newTestSealer(t, 2)
	kr := crypto.NewKeyring(active)
	kr.AddRetired(old)

	// Old blobs still open through the retired key.
	got, err := kr.Open(blob)
	if err != nil {
		t.Fatalf("keyring Open(v1 blob) error = %v", err)
	}
	if string(got) != "legacy" {
		t.Errorf("keyring Open() = %q, want %q", got, "legacy")
	}

	// New writes carry the active version.
	fresh, err := kr.Seal([]byte("new"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(fresh, "v2:") {
		t.Errorf("keyring Seal() output does not start with v2: prefix")
	}
}

func flip(s string) string {
	if s == "A" {
		return "B"
	}
	return "A"
}
