package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenCache_SaveAndLoad(t *testing.T) {
	cache := NewTokenCache(filepath.Join(t.TempDir(), "nested"))

	if err := cache.SaveLinkToken("metamask", "lt_1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cache.SaveLinkToken("metamask", "lt_2"); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := cache.LoadLinkToken("metamask")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if data.LinkToken != "lt_2" || data.Provider != "metamask" || data.UpdatedAt == 0 {
		t.Fatalf("unexpected data %+v", data)
	}

	info, err := os.Stat(cache.filePath("metamask"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("unexpected permissions %v", info.Mode().Perm())
	}
}

func TestTokenCache_MissingFile(t *testing.T) {
	cache := NewTokenCache(t.TempDir())
	data, err := cache.LoadLinkToken("binance")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if data.LinkToken != "" {
		t.Fatalf("expected empty data, got %+v", data)
	}
}

func TestTokenCache_CorruptFile(t *testing.T) {
	cache := NewTokenCache(t.TempDir())
	if err := os.WriteFile(cache.filePath("binance"), []byte("{"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := cache.LoadLinkToken("binance"); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}
