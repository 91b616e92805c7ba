package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-reconciler/internal/corpus"
)

// FileLedger stores entries as newline-delimited JSON in one file.
type FileLedger struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileLedger returns a ledger at path, creating its directory if needed.
func NewFileLedger(path string, logger *zap.Logger) (*FileLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLedger{path: path, logger: logger}, nil
}

// Name returns the ledger file path.
func (l *FileLedger) Name() string {
	return l.path
}

// Append writes entry as one line and syncs the file.
func (l *FileLedger) Append(_ context.Context, entry corpus.LedgerEntry) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	return nil
}

// Entries reads the ledger. Lines that do not decode are logged and skipped.
// A missing file is an empty ledger.
func (l *FileLedger) Entries(_ context.Context) ([]corpus.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []corpus.LedgerEntry
	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			var entry corpus.LedgerEntry
			if err := json.Unmarshal(line, &entry); err != nil || entry.DocID == "" {
				l.logger.Warn("skipping unreadable ledger line",
					zap.String("ledger", l.path),
					zap.Int("line", lineNo),
					zap.Error(err),
				)
			} else {
				entries = append(entries, entry)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read ledger: %w", readErr)
		}
	}
	return entries, nil
}

// Archive renames the ledger file to its timestamped backup name and creates
// an empty ledger in its place.
func (l *FileLedger) Archive(_ context.Context, at time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stat ledger: %w", err)
	}
	archived := ArchiveName(l.path, at)
	if err := os.Rename(l.path, archived); err != nil {
		return "", fmt.Errorf("archive ledger: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return archived, fmt.Errorf("create fresh ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return archived, fmt.Errorf("close fresh ledger: %w", err)
	}
	return archived, nil
}

// Rewrite replaces the ledger via a temp file and rename.
func (l *FileLedger) Rewrite(_ context.Context, entries []corpus.LedgerEntry) error {
	var buf bytes.Buffer
	for _, entry := range entries {
		data, err := encodeEntry(entry)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		cleanup()
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
