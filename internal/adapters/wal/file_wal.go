package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

const (
	logName  = "spool.log"
	metaName = "spool.meta"
)

// FileWAL spools samples as checksummed JSON records in a single log file.
// Commit progress lives in a sidecar meta file so a restart resumes replay
// after the last committed id.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &FileWAL{dir: dir}
	if err := w.open(); err != nil {
		return nil, err
	}
	if err := w.recover(); err != nil {
		w.file.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) logPath() string  { return filepath.Join(w.dir, logName) }
func (w *FileWAL) metaPath() string { return filepath.Join(w.dir, metaName) }

func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.logPath(), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 1<<20)
	return nil
}

// recover finds the last complete record, cuts off a torn tail and loads the
// commit point.
func (w *FileWAL) recover() error {
	var valid int64
	err := w.scan(func(rec record) error {
		valid += rec.size()
		w.nextID = rec.id
		return nil
	})
	switch {
	case errors.Is(err, errTornRecord):
	case err != nil:
		return fmt.Errorf("wal recover: %w", err)
	}
	if err := w.file.Truncate(valid); err != nil {
		return err
	}
	w.sizeBytes = valid

	committed, err := readMeta(w.metaPath())
	if err != nil {
		return err
	}
	w.committed = committed
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return nil
}

// scan reads the log from the start. It returns nil at a clean end.
func (w *FileWAL) scan(fn func(record) error) error {
	f, err := os.Open(w.logPath())
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (w *FileWAL) Append(s *domain.Sample) (ports.WALEntryID, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	rec := record{id: w.nextID + 1, body: body}
	if err := writeRecord(w.writer, rec); err != nil {
		return 0, err
	}
	w.nextID = rec.id
	w.sizeBytes += rec.size()
	return rec.id, nil
}

func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, s *domain.Sample) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	err := w.scan(func(rec record) error {
		if rec.id < from {
			return nil
		}
		var s domain.Sample
		if err := json.Unmarshal(rec.body, &s); err != nil {
			return fmt.Errorf("corrupt wal entry %d: %w", rec.id, err)
		}
		return fn(rec.id, &s)
	})
	if errors.Is(err, errTornRecord) {
		return fmt.Errorf("corrupt wal: %w", err)
	}
	return err
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	return writeMeta(w.metaPath(), w.committed)
}

// Sync flushes buffered records and fsyncs the log.
func (w *FileWAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// TruncateCommitted rewrites the log keeping only records past the commit
// point. Ids are preserved, so the meta file stays valid.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	tmpPath := w.logPath() + ".tmp"
	kept, err := w.rewrite(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.logPath()); err != nil {
		return err
	}
	if err := w.open(); err != nil {
		return err
	}
	w.sizeBytes = kept
	return nil
}

func (w *FileWAL) rewrite(path string) (int64, error) {
	tmp, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer tmp.Close()

	tw := bufio.NewWriter(tmp)
	var kept int64
	err = w.scan(func(rec record) error {
		if rec.id <= w.committed {
			return nil
		}
		kept += rec.size()
		return writeRecord(tw, rec)
	})
	if err != nil {
		return 0, fmt.Errorf("wal truncate: %w", err)
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	return kept, tmp.Sync()
}

// Close flushes and closes the log file.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.writer.Flush(), w.file.Close())
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

func readMeta(path string) (ports.WALEntryID, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wal meta parse: %w", err)
	}
	return ports.WALEntryID(u), nil
}

func writeMeta(path string, committed ports.WALEntryID) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(committed), 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ ports.WAL = (*FileWAL)(nil)
