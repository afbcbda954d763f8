package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const envFileName = ".env"

// LoadEnvironment loads .env files from the working directory, the executable's
// directory and then MESH_DATA_DIR. Variables that are already set are never
// overridden, so earlier files win. It returns the files that were loaded;
// missing files are skipped and unreadable ones are reported in the error.
func LoadEnvironment() ([]string, error) {
	var (
		loaded []string
		errs   []error
		seen   = make(map[string]bool)
	)

	load := func(dir string) {
		path, err := filepath.Abs(filepath.Join(dir, envFileName))
		if err != nil || seen[path] {
			return
		}
		seen[path] = true

		if err := godotenv.Load(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to load %s: %w", path, err))
			}
			return
		}
		loaded = append(loaded, path)
	}

	load(".")
	if execPath, err := os.Executable(); err == nil {
		load(filepath.Dir(execPath))
	}
	// Read after the first two so a .env there can point at the data dir.
	if dataDir := os.Getenv("MESH_DATA_DIR"); dataDir != "" {
		load(dataDir)
	}

	return loaded, errors.Join(errs...)
}
