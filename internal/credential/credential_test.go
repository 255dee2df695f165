package credential

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	a, err := Generate(PrefixAPIKey)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(PrefixAPIKey)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(a, "crk_") {
		t.Errorf("secret %q missing class prefix", a)
	}
	if a == b {
		t.Error("two generated secrets are identical")
	}
	if len(a) != len("crk_")+2*secretBytes {
		t.Errorf("len = %d, want %d", len(a), len("crk_")+2*secretBytes)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	if Hash("crk_abc") != Hash("crk_abc") {
		t.Error("same input must hash identically")
	}
	if Hash("crk_abc") == Hash("crk_abd") {
		t.Error("different inputs collided")
	}
	if len(Hash("anything")) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(Hash("anything")))
	}
}

func TestDisplayPrefix(t *testing.T) {
	secret, _ := Generate(PrefixAccessToken)
	got := DisplayPrefix(secret)
	if got != secret[:16]+"..." {
		t.Errorf("DisplayPrefix = %q", got)
	}
	if DisplayPrefix("short") != "short" {
		t.Error("short values should pass through unchanged")
	}
}
