package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
)

// Archiver moves consumed files out of the pending area. It returns the
// new location of every file in the order given. Archiving is all or
// nothing: on error every file is back in the pending area.
type Archiver interface {
	Archive(ctx context.Context, paths []string) ([]string, error)
}

// DirArchiver moves files into a local processed directory.
type DirArchiver struct {
	Dir string
}

// NewDirArchiver creates the processed directory if needed.
func NewDirArchiver(dir string) (*DirArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create processed directory %s: %w", dir, err)
	}
	return &DirArchiver{Dir: dir}, nil
}

func (a *DirArchiver) Archive(ctx context.Context, paths []string) ([]string, error) {
	moved := make([]string, 0, len(paths))
	for _, p := range paths {
		err := ctx.Err()
		dst := filepath.Join(a.Dir, filepath.Base(p))
		if err == nil {
			err = moveFile(p, dst)
		}
		if err != nil {
			a.restore(paths[:len(moved)], moved)
			return nil, fmt.Errorf("failed to archive %s: %w", p, err)
		}
		moved = append(moved, dst)
	}
	return moved, nil
}

// restore moves already archived files back to where they came from.
func (a *DirArchiver) restore(srcs, moved []string) {
	for i := len(moved) - 1; i >= 0; i-- {
		if err := moveFile(moved[i], srcs[i]); err != nil {
			logger.Error("[Loader] Failed to restore archived file", "file", moved[i], "pending", srcs[i], "err", err)
		}
	}
}

// moveFile renames src to dst and falls back to copy and remove when the
// two paths live on different devices.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
