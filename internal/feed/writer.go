package feed

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"feedsync/internal/logger"

	"go.uber.org/multierr"
)

var errNotWritable = errors.New("file is not writable")

// FileWriter owns the temp and public files of one feed type. The public file
// is only ever replaced by an atomic rename of a complete temp file.
type FileWriter interface {
	Directory() string
	FilePath(ctx context.Context) (string, error)
	TempFilePath(ctx context.Context) (string, error)
	CreateDirectory() error
	ProtectDirectory()
	PrepareTemp(ctx context.Context, header []string) error
	Append(ctx context.Context, rows [][]string) error
	Promote(ctx context.Context) error
	Discard(ctx context.Context) error
}

// SecretFunc resolves the feed secret the file names are derived from.
type SecretFunc func(ctx context.Context) (string, error)

// CSVFileWriter writes feeds as CSV under <root>/<feed type>/.
type CSVFileWriter struct {
	feedType string
	dir      string
	secret   SecretFunc
	logger   *logger.Logger

	mu   sync.Mutex
	hash string
}

var _ FileWriter = (*CSVFileWriter)(nil)

func NewCSVFileWriter(root, feedType string, secret SecretFunc, log *logger.Logger) *CSVFileWriter {
	return &CSVFileWriter{
		feedType: feedType,
		dir:      filepath.Join(root, feedType),
		secret:   secret,
		logger:   log.With("feed", feedType),
	}
}

func (w *CSVFileWriter) Directory() string {
	return w.dir
}

func (w *CSVFileWriter) FilePath(ctx context.Context) (string, error) {
	hash, err := w.secretHash(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s_feed_%s.csv", w.feedType, hash)), nil
}

func (w *CSVFileWriter) TempFilePath(ctx context.Context) (string, error) {
	hash, err := w.secretHash(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s_feed_temp_%s.csv", w.feedType, hash)), nil
}

func (w *CSVFileWriter) secretHash(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.hash != "" {
		return w.hash, nil
	}

	secret, err := w.secret(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve feed secret: %w", err)
	}
	sum := sha256.Sum256([]byte(secret))
	w.hash = hex.EncodeToString(sum[:])
	return w.hash, nil
}

func (w *CSVFileWriter) CreateDirectory() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return storageErr("mkdir", w.dir, err)
	}
	return nil
}

// ProtectDirectory drops markers that keep web servers from listing or serving
// the directory. Failures are only logged.
func (w *CSVFileWriter) ProtectDirectory() {
	markers := map[string]string{
		"index.html": "",
		".htaccess":  "deny from all\n",
	}
	for name, content := range markers {
		path := filepath.Join(w.dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			w.logger.Warn("Could not write directory protection file", "path", path, "error", err)
		}
	}
}

// PrepareTemp truncates (or creates) the temp file and writes the header row.
func (w *CSVFileWriter) PrepareTemp(ctx context.Context, header []string) (err error) {
	public, err := w.FilePath(ctx)
	if err != nil {
		return err
	}
	temp, err := w.TempFilePath(ctx)
	if err != nil {
		return err
	}

	if err := checkWritable(public); err != nil {
		return storageErr("open", public, err)
	}

	f, err := os.OpenFile(temp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return storageErr("create", temp, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierr.Append(err, storageErr("close", temp, cerr))
		}
	}()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return storageErr("write", temp, err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return storageErr("write", temp, err)
	}
	return nil
}

// Append writes rows at the end of an existing temp file.
func (w *CSVFileWriter) Append(ctx context.Context, rows [][]string) (err error) {
	temp, err := w.TempFilePath(ctx)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(temp, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return storageErr("append", temp, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierr.Append(err, storageErr("close", temp, cerr))
		}
	}()

	if err := csv.NewWriter(f).WriteAll(rows); err != nil {
		return storageErr("write", temp, err)
	}
	return nil
}

// Promote atomically replaces the public file with the temp file.
func (w *CSVFileWriter) Promote(ctx context.Context) error {
	public, err := w.FilePath(ctx)
	if err != nil {
		return err
	}
	temp, err := w.TempFilePath(ctx)
	if err != nil {
		return err
	}

	if err := syncFile(temp); err != nil {
		return storageErr("sync", temp, err)
	}
	if err := checkWritable(public); err != nil {
		return storageErr("promote", public, err)
	}
	if err := os.Rename(temp, public); err != nil {
		return storageErr("rename", temp, err)
	}

	w.logger.Debug("Feed file promoted", "path", public)
	return nil
}

func (w *CSVFileWriter) Discard(ctx context.Context) error {
	temp, err := w.TempFilePath(ctx)
	if err != nil {
		return err
	}
	if err := os.Remove(temp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("remove", temp, err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return multierr.Append(f.Sync(), f.Close())
}

// checkWritable passes for missing files; an existing file must carry a write
// bit and open for writing.
func checkWritable(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o222 == 0 {
		return errNotWritable
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
