package gwerrors

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	plain := New(KindAuth, "invalid_credentials", "Invalid credentials")
	if plain.Error() != "auth: Invalid credentials" {
		t.Errorf("Error() = %q", plain.Error())
	}

	wrapped := Wrap(KindNetwork, "dns_failed", "resolve host", io.EOF)
	if wrapped.Error() != "network: resolve host: EOF" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, io.EOF) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestKindOfAndCodeOf(t *testing.T) {
	err := New(KindTimeout, "prompt_timeout", "prompt timed out")
	if KindOf(err) != KindTimeout || CodeOf(err) != "prompt_timeout" {
		t.Errorf("KindOf/CodeOf = %v/%v", KindOf(err), CodeOf(err))
	}

	// Classification survives fmt wrapping.
	outer := fmt.Errorf("handling message: %w", err)
	if KindOf(outer) != KindTimeout || CodeOf(outer) != "prompt_timeout" {
		t.Errorf("wrapped KindOf/CodeOf = %v/%v", KindOf(outer), CodeOf(outer))
	}

	if KindOf(io.EOF) != KindUnknown {
		t.Errorf("KindOf(plain error) = %v", KindOf(io.EOF))
	}
	if CodeOf(nil) != "" {
		t.Errorf("CodeOf(nil) = %q", CodeOf(nil))
	}
}

func TestIsKind(t *testing.T) {
	err := Newf(KindValidation, "invalid_port", "port %d out of range", 70000)
	if !IsKind(err, KindValidation) {
		t.Error("IsKind missed validation")
	}
	if IsKind(err, KindAuth) {
		t.Error("IsKind matched wrong kind")
	}
}
