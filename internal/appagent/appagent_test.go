package appagent

import (
	"path/filepath"
	"testing"
)

func TestStaticDSNProviderValidatesLength(t *testing.T) {
	if _, err := (StaticDSNProvider{Value: "too-short"}).DSN(); err == nil {
		t.Fatalf("expected error for non-15-byte static DSN")
	}

	const valid = "AY0123456789012"
	if len(valid) != 15 {
		t.Fatalf("test fixture itself is not 15 bytes, got %d", len(valid))
	}
	got, err := (StaticDSNProvider{Value: valid}).DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if got != valid {
		t.Fatalf("expected %q, got %q", valid, got)
	}
}

func TestGeneratedDSNProviderCachesAcrossCalls(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "dsn.cache")
	p := GeneratedDSNProvider{CachePath: cachePath}

	first, err := p.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if len(first) != 15 {
		t.Fatalf("expected generated DSN of length 15, got %d (%q)", len(first), first)
	}

	second, err := p.DSN()
	if err != nil {
		t.Fatalf("DSN (second call): %v", err)
	}
	if second != first {
		t.Fatalf("expected cached DSN to be stable, got %q then %q", first, second)
	}
}

func TestGeneratedDSNProviderDistinctPerCachePath(t *testing.T) {
	a := GeneratedDSNProvider{CachePath: filepath.Join(t.TempDir(), "a.cache")}
	b := GeneratedDSNProvider{CachePath: filepath.Join(t.TempDir(), "b.cache")}

	dsnA, err := a.DSN()
	if err != nil {
		t.Fatalf("DSN a: %v", err)
	}
	dsnB, err := b.DSN()
	if err != nil {
		t.Fatalf("DSN b: %v", err)
	}
	if dsnA == dsnB {
		t.Fatalf("expected distinct DSNs across distinct cache paths, got %q twice", dsnA)
	}
}
