package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const backupSuffix = ".bak"

// replaceFile rewrites path without ever leaving it truncated: the new
// content goes to a temp file in the same directory and is verified, the
// current file is copied to path.bak, then the temp file is renamed over
// path. If the rename fails the backup is restored.
func replaceFile(ctx context.Context, path string, write func(w io.Writer) error, verify func(tmpPath string) error) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(base)
	tmp, err := os.CreateTemp(dir, "."+strings.TrimSuffix(base, ext)+"-*"+ext)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := verify(tmpPath); err != nil {
		return fmt.Errorf("verify temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	backup := path + backupSuffix
	hasBackup := false
	if _, statErr := os.Stat(path); statErr == nil {
		if err := copyFile(path, backup); err != nil {
			return fmt.Errorf("backup %s: %w", path, err)
		}
		hasBackup = true
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if hasBackup {
			if restoreErr := copyFile(backup, path); restoreErr != nil {
				return errors.Join(fmt.Errorf("replace %s: %w", path, err), fmt.Errorf("restore backup: %w", restoreErr))
			}
		}
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
