package sink

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/okulov/sensorfleet/internal/models/reading"
)

// FileSink appends readings to a single local file. A mutex serializes
// appends, so records never interleave and the commit order is total; each
// caller's own appends land in the order it made them.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	enc    Encoder
	closed bool
	count  uint64

	path      string
	syncEvery bool
	log       *slog.Logger
}

type Option func(*FileSink)

// WithEncoder selects the line format. Default is CSV.
func WithEncoder(enc Encoder) Option {
	return func(fs *FileSink) { fs.enc = enc }
}

// WithSyncEvery fsyncs after every append instead of only at Close.
func WithSyncEvery() Option {
	return func(fs *FileSink) { fs.syncEvery = true }
}

func WithLogger(log *slog.Logger) Option {
	return func(fs *FileSink) { fs.log = log }
}

// NewFileSink opens path for appending, creating parent directories and the
// file as needed. A format header is written only when the file is empty, so
// reopening an existing store keeps a single header.
func NewFileSink(path string, opts ...Option) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store file: %w", err)
	}

	fs := &FileSink{
		f:    f,
		w:    bufio.NewWriter(f),
		enc:  CSVEncoder{},
		path: path,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(fs)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat store file: %w", err)
	}
	if info.Size() == 0 {
		if hdr := fs.enc.Header(); hdr != nil {
			if _, err := fs.w.Write(hdr); err != nil {
				f.Close()
				return nil, fmt.Errorf("write store header: %w", err)
			}
		}
	}

	return fs, nil
}

// Append commits one reading to the store. Safe for concurrent use.
func (fs *FileSink) Append(r reading.Reading) error {
	line, err := fs.enc.Encode(r)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrClosed
	}
	if _, err := fs.w.Write(line); err != nil {
		return fmt.Errorf("append reading: %w", err)
	}
	if fs.syncEvery {
		if err := fs.w.Flush(); err != nil {
			return fmt.Errorf("flush store: %w", err)
		}
		if err := fs.f.Sync(); err != nil {
			return fmt.Errorf("sync store: %w", err)
		}
	}
	fs.count++
	return nil
}

// Count reports how many readings this sink has committed.
func (fs *FileSink) Count() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.count
}

// Close flushes buffered records, fsyncs and releases the file. Appends
// arriving after Close fail with ErrClosed. Closing twice is a no-op.
func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true

	if err := fs.w.Flush(); err != nil {
		fs.f.Close()
		return fmt.Errorf("flush store: %w", err)
	}
	if err := fs.f.Sync(); err != nil {
		fs.f.Close()
		return fmt.Errorf("sync store: %w", err)
	}
	if err := fs.f.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}

	fs.log.Info("store closed", "path", fs.path, "records", fs.count)
	return nil
}
