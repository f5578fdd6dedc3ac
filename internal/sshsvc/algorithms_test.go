package sshsvc

import (
	"strings"
	"testing"

	"github.com/webssh2/webssh2/internal/config"
)

func TestPresetSet_UnknownFallsBackToModern(t *testing.T) {
	got := PresetSet("nonsense")
	want := PresetSet(PresetModern)
	if len(got.Kex) != len(want.Kex) || got.Kex[0] != want.Kex[0] {
		t.Errorf("fallback set = %v", got.Kex)
	}
}

func TestResolveAlgorithms_OverridesPerCategory(t *testing.T) {
	set := ResolveAlgorithms(config.AlgorithmsConfig{
		Preset: PresetStrict,
		Cipher: []string{"aes128-ctr"},
	})
	if len(set.Cipher) != 1 || set.Cipher[0] != "aes128-ctr" {
		t.Errorf("cipher override ignored: %v", set.Cipher)
	}
	// Untouched categories keep the preset lists.
	if set.Kex[0] != "curve25519-sha256" {
		t.Errorf("kex = %v, want strict preset", set.Kex)
	}
}

// ---- capture -------------------------------------------------------------

func TestCapture_FirstOccurrenceWins(t *testing.T) {
	c := NewCapture()
	c.RecordServer(CategoryKex, []string{"diffie-hellman-group14-sha1"})
	c.RecordServer(CategoryKex, []string{"curve25519-sha256"})

	got := c.Server().Kex
	if len(got) != 1 || got[0] != "diffie-hellman-group14-sha1" {
		t.Errorf("server kex = %v, want first recording", got)
	}
}

func TestCapture_ObserveDebugLine(t *testing.T) {
	c := NewCapture()
	c.ObserveDebugLine("Handshake: local KEX method: curve25519-sha256, ecdh-sha2-nistp256")
	c.ObserveDebugLine("Handshake: remote KEX method: diffie-hellman-group1-sha1")
	c.ObserveDebugLine("Handshake: remote C->S cipher: aes128-cbc, 3des-cbc")
	c.ObserveDebugLine("not a handshake line")
	c.ObserveDebugLine("Handshake: remote Unknown category: x")

	client := c.Client()
	if len(client.Kex) != 2 || client.Kex[1] != "ecdh-sha2-nistp256" {
		t.Errorf("client kex = %v", client.Kex)
	}
	server := c.Server()
	if len(server.Kex) != 1 || server.Kex[0] != "diffie-hellman-group1-sha1" {
		t.Errorf("server kex = %v", server.Kex)
	}
	if len(server.Cipher) != 2 {
		t.Errorf("server cipher = %v", server.Cipher)
	}
}

func TestCapture_AnalyzeNilWhenCompatible(t *testing.T) {
	c := NewCapture()
	c.RecordClient(PresetSet(PresetModern))
	c.RecordServer(CategoryKex, []string{"curve25519-sha256"})

	if analysis := c.Analyze(); analysis != nil {
		t.Errorf("analysis = %+v, want nil", analysis)
	}
}

func TestCapture_AnalyzeReportsMismatchAndSuggestions(t *testing.T) {
	c := NewCapture()
	c.RecordClient(PresetSet(PresetStrict))
	// Server only speaks legacy group14-sha1.
	c.RecordServer(CategoryKex, []string{"diffie-hellman-group14-sha1"})

	analysis := c.Analyze()
	if analysis == nil || !analysis.HasAnyMismatch {
		t.Fatal("mismatch not detected")
	}
	if len(analysis.Mismatches) != 1 || analysis.Mismatches[0].Category != CategoryKex {
		t.Fatalf("mismatches = %+v", analysis.Mismatches)
	}
	if analysis.SuggestedPreset != PresetLegacy {
		t.Errorf("suggested preset = %q, want legacy", analysis.SuggestedPreset)
	}
	found := false
	for _, s := range analysis.EnvSuggestions {
		if s == "WEBSSH2_SSH_ALGORITHMS_KEX=diffie-hellman-group14-sha1" {
			found = true
		}
	}
	if !found {
		t.Errorf("env suggestions = %v", analysis.EnvSuggestions)
	}
}

func TestCapture_AnalyzeNoSuggestedPresetWhenNothingCovers(t *testing.T) {
	c := NewCapture()
	c.RecordClient(PresetSet(PresetStrict))
	c.RecordServer(CategoryKex, []string{"made-up-kex"})

	analysis := c.Analyze()
	if analysis == nil {
		t.Fatal("expected a mismatch")
	}
	if analysis.SuggestedPreset != "" {
		t.Errorf("suggested preset = %q, want none", analysis.SuggestedPreset)
	}
}

// ---- negotiation failure parsing -----------------------------------------

func TestObserveNegotiationFailure(t *testing.T) {
	c := NewCapture()
	c.RecordClient(PresetSet(PresetStrict))
	err := errString("ssh: handshake failed: ssh: no common algorithm for key exchange; " +
		"client offered: [curve25519-sha256], server offered: [diffie-hellman-group14-sha1 diffie-hellman-group1-sha1]")

	observeNegotiationFailure(c, err)

	server := c.Server().Kex
	if len(server) != 2 || server[0] != "diffie-hellman-group14-sha1" {
		t.Fatalf("server kex = %v", server)
	}
	if analysis := c.Analyze(); analysis == nil {
		t.Error("analysis nil after negotiation failure")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestObserveNegotiationFailure_IgnoresOtherErrors(t *testing.T) {
	c := NewCapture()
	observeNegotiationFailure(c, errString("ssh: handshake failed: EOF"))
	if got := c.Server(); len(got.Kex) != 0 {
		t.Errorf("server kex = %v, want empty", got.Kex)
	}
	observeNegotiationFailure(nil, errString("x")) // must not panic
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,, c ")
	if strings.Join(got, "|") != "a|b|c" {
		t.Errorf("splitCSV = %v", got)
	}
}
