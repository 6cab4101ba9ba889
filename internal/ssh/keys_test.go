package ssh

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateEd25519Keypair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "keys", "id_ed25519")
	pub, err := GenerateEd25519Keypair(priv, "lightfarm@test")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(pub, "ssh-ed25519 ") {
		t.Fatalf("unexpected authorized key %q", pub)
	}
	st, err := os.Stat(priv)
	if err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("private key mode %v, want 0600", st.Mode().Perm())
	}
	b, err := os.ReadFile(priv + ".pub")
	if err != nil {
		t.Fatalf("public key not written: %v", err)
	}
	if string(b) != pub {
		t.Fatalf("public key file does not match returned key")
	}
}

func TestLoadPrivateKeySignerRoundTrip(t *testing.T) {
	priv := filepath.Join(t.TempDir(), "id_ed25519")
	if _, err := GenerateEd25519Keypair(priv, ""); err != nil {
		t.Fatalf("generate: %v", err)
	}
	signer, err := LoadPrivateKeySigner(priv)
	if err != nil {
		t.Fatalf("load signer: %v", err)
	}
	if signer.PublicKey().Type() != "ssh-ed25519" {
		t.Fatalf("signer type %q", signer.PublicKey().Type())
	}
}

func TestLoadPrivateKeySignerMissing(t *testing.T) {
	if _, err := LoadPrivateKeySigner(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
