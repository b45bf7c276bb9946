package develop

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed initdocs/*
var initDocs embed.FS

// seedDocs writes the bundled instructional documents into workDir and then
// overlays the files found in overlayDir, if it exists.
func seedDocs(workDir, overlayDir string) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	entries, err := initDocs.ReadDir("initdocs")
	if err != nil {
		return fmt.Errorf("read bundled docs: %w", err)
	}
	for _, e := range entries {
		data, err := initDocs.ReadFile(path.Join("initdocs", e.Name()))
		if err != nil {
			return fmt.Errorf("read bundled %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(workDir, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", e.Name(), err)
		}
	}

	if info, err := os.Stat(overlayDir); err != nil || !info.IsDir() {
		return nil
	}
	if err := copyDir(overlayDir, workDir); err != nil {
		return fmt.Errorf("copy %s: %w", overlayDir, err)
	}
	return nil
}

// copyDir recursively copies a directory, overwriting existing files.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			return os.MkdirAll(dstPath, 0o755)
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(dstPath, data, 0o644)
	})
}
