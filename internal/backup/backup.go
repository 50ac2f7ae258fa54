// Package backup copies input workbooks aside before any command
// regenerates them. Originals are never modified in place; the copy is
// the recovery point.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Keeper writes timestamped copies of input files into a backup
// directory. A disabled Keeper does nothing.
type Keeper struct {
	enabled bool
	dir     string
}

// New creates a Keeper. An empty dir defaults to a backups directory
// beside each source file.
func New(enabled bool, dir string) *Keeper {
	return &Keeper{enabled: enabled, dir: dir}
}

// Keep copies path into the backup directory, naming the copy after the
// original plus the current UTC timestamp. Returns the backup path, or
// "" when disabled.
func (k *Keeper) Keep(path string) (string, error) {
	if !k.enabled {
		return "", nil
	}

	dir := k.dir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(path), "backups")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "backup: create directory")
	}

	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	dest := filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, time.Now().UTC().Format("20060102T150405"), ext))

	if err := copyFile(path, dest); err != nil {
		return "", err
	}

	zap.L().Info("backup written",
		zap.String("original", path),
		zap.String("backup", dest),
	)
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrap(err, "backup: open source")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return eris.Wrap(err, "backup: create copy")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return eris.Wrap(err, "backup: copy contents")
	}
	return eris.Wrap(out.Close(), "backup: flush copy")
}
