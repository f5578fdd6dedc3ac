package hostkeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	cryptossh "golang.org/x/crypto/ssh"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "hostkeys.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func generateKey(t *testing.T) cryptossh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	key, err := cryptossh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func encode(key cryptossh.PublicKey) string {
	return base64.StdEncoding.EncodeToString(key.Marshal())
}

func TestStore_InsertThenLookup(t *testing.T) {
	s := openTestStore(t)
	key := generateKey(t)

	verdict, _, err := s.Lookup("db.internal", 22, key.Type(), encode(key))
	if err != nil || verdict != VerdictUnknown {
		t.Fatalf("fresh lookup = (%v, %v)", verdict, err)
	}

	if err := s.Insert(HostKey{
		Host: "db.internal", Port: 22, Algorithm: key.Type(), Key: encode(key),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	verdict, rec, err := s.Lookup("db.internal", 22, key.Type(), encode(key))
	if err != nil || verdict != VerdictTrusted {
		t.Fatalf("lookup after insert = (%v, %v)", verdict, err)
	}
	if rec.AddedAt.IsZero() {
		t.Error("AddedAt not stamped on insert")
	}
}

func TestStore_MismatchOnChangedKey(t *testing.T) {
	s := openTestStore(t)
	oldKey, newKey := generateKey(t), generateKey(t)

	if err := s.Insert(HostKey{Host: "h", Port: 22, Algorithm: oldKey.Type(), Key: encode(oldKey)}); err != nil {
		t.Fatal(err)
	}
	verdict, rec, err := s.Lookup("h", 22, newKey.Type(), encode(newKey))
	if err != nil || verdict != VerdictMismatch {
		t.Fatalf("lookup = (%v, %v), want mismatch", verdict, err)
	}
	if rec.Key != encode(oldKey) {
		t.Error("stored record not returned on mismatch")
	}
}

func TestStore_PortDistinguishesRecords(t *testing.T) {
	s := openTestStore(t)
	key := generateKey(t)
	if err := s.Insert(HostKey{Host: "h", Port: 22, Algorithm: key.Type(), Key: encode(key)}); err != nil {
		t.Fatal(err)
	}
	verdict, _, _ := s.Lookup("h", 2222, key.Type(), encode(key))
	if verdict != VerdictUnknown {
		t.Errorf("verdict for other port = %v, want unknown", verdict)
	}
}

func TestStore_InsertReplacesExistingRow(t *testing.T) {
	s := openTestStore(t)
	oldKey, newKey := generateKey(t), generateKey(t)

	for _, k := range []cryptossh.PublicKey{oldKey, newKey} {
		if err := s.Insert(HostKey{Host: "h", Port: 22, Algorithm: k.Type(), Key: encode(k)}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count()
	if err != nil || n != 1 {
		t.Fatalf("count = (%d, %v), want 1", n, err)
	}
	verdict, _, _ := s.Lookup("h", 22, newKey.Type(), encode(newKey))
	if verdict != VerdictTrusted {
		t.Errorf("verdict = %v, want trusted after replace", verdict)
	}
}

// ---- known_hosts seeding -------------------------------------------------

func TestSeedFromKnownHosts(t *testing.T) {
	s := openTestStore(t)
	k1, k2 := generateKey(t), generateKey(t)

	content := "# comment line\n" +
		"db.internal " + string(cryptossh.MarshalAuthorizedKey(k1)) +
		"[bastion.internal]:2222 " + string(cryptossh.MarshalAuthorizedKey(k2)) +
		"|1|hashedhosthashedhost= " + string(cryptossh.MarshalAuthorizedKey(k1)) +
		"malformed line without a key\n"
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := s.SeedFromKnownHosts(path)
	if err != nil {
		t.Fatalf("SeedFromKnownHosts: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted = %d, want 2", n)
	}

	verdict, _, _ := s.Lookup("db.internal", 22, k1.Type(), encode(k1))
	if verdict != VerdictTrusted {
		t.Errorf("db.internal verdict = %v", verdict)
	}
	verdict, _, _ = s.Lookup("bastion.internal", 2222, k2.Type(), encode(k2))
	if verdict != VerdictTrusted {
		t.Errorf("bastion.internal:2222 verdict = %v", verdict)
	}

	// Re-seeding is a no-op for already-trusted entries.
	n, err = s.SeedFromKnownHosts(path)
	if err != nil || n != 0 {
		t.Errorf("second seed = (%d, %v), want 0 inserts", n, err)
	}
}

func TestSeedFromKnownHosts_MissingFile(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SeedFromKnownHosts(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("missing file accepted")
	}
}
