package main

import (
	"os"
	"path/filepath"
)

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "bacnetd", "runs.db")
	}
	return filepath.Join(home, ".bacnetd", "runs.db")
}
