// Package scaffold copies the host project template next to a staged source file.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotDirectory reports a template path that is not a directory.
var ErrNotDirectory = errors.New("scaffold template is not a directory")

// Stage recursively copies the contents of templateDir into targetDir.
// Existing files in targetDir are overwritten; other files are left alone.
func Stage(ctx context.Context, templateDir, targetDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	info, err := os.Stat(templateDir)
	if err != nil {
		return fmt.Errorf("failed to stat scaffold template %q: %w", templateDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q: %w", templateDir, ErrNotDirectory)
	}
	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf("failed to create staging dir %q: %w", targetDir, err)
	}

	walkErr := filepath.WalkDir(templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(templateDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(targetDir, rel)
		switch {
		case d.IsDir():
			return copyDir(path, dst)
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, dst)
		case d.Type().IsRegular():
			return copyFile(path, dst)
		default:
			return nil
		}
	})
	if walkErr != nil {
		return fmt.Errorf("failed to stage scaffold %q into %q: %w", templateDir, targetDir, walkErr)
	}
	return nil
}

func copyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.MkdirAll(dst, info.Mode().Perm()|0o700)
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Symlink(target, dst)
}

func copyFile(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	// #nosec G304 -- src is inside the configured scaffold template
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	// #nosec G304 -- dst is inside the per-invocation staging dir
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
