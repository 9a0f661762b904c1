package dat

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// sourceFile is one file found below a compression root.
type sourceFile struct {
	abs string // absolute path on disk
	rel string // path relative to the root, backslash separated
}

// listFiles walks root recursively in lexical order and returns every file below it.
// Unreadable subdirectories are logged and skipped; symbolic links are followed
// when they point at regular files.
func listFiles(root string, logger *slog.Logger) ([]sourceFile, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "walk", Path: root, Err: fs.ErrInvalid}
	}

	var files []sourceFile
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == absRoot {
				return walkErr
			}
			logger.Warn("skipping unreadable directory", "path", path, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				logger.Debug("skipped symlink", "path", path)
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{
			abs: path,
			rel: strings.ReplaceAll(filepath.ToSlash(rel), "/", "\\"),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
