package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func writeEnvFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func unsetAfter(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadEnvironment_WorkingAndDataDir(t *testing.T) {
	workDir := t.TempDir()
	dataDir := t.TempDir()
	t.Chdir(workDir)
	unsetAfter(t, "MESH_DATA_DIR", "MESH_CLIENT_ID", "MESH_USER_ID")

	writeEnvFile(t, workDir, "MESH_DATA_DIR="+dataDir+"\nMESH_CLIENT_ID=from-workdir\n")
	writeEnvFile(t, dataDir, "MESH_CLIENT_ID=from-datadir\nMESH_USER_ID=user-1\n")

	loaded, err := LoadEnvironment()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected two files loaded, got %v", loaded)
	}
	if got := os.Getenv("MESH_CLIENT_ID"); got != "from-workdir" {
		t.Errorf("earlier file should win, got %q", got)
	}
	if got := os.Getenv("MESH_USER_ID"); got != "user-1" {
		t.Errorf("data dir file not loaded, got %q", got)
	}
}

func TestLoadEnvironment_NoFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetAfter(t, "MESH_DATA_DIR")

	loaded, err := LoadEnvironment()
	if err != nil {
		t.Fatalf("missing files must not be an error: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no files loaded, got %v", loaded)
	}
}
