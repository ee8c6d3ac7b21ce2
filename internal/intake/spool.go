package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the spool's size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Spool holds uploaded bytes for the duration of one extraction.
type Spool interface {
	Put(r io.Reader) (Spooled, error)
}

// Spooled is one held upload. Release must be safe to call more than once;
// only the first call frees the underlying resource.
type Spooled interface {
	Bytes() ([]byte, error)
	Release() error
}

// FileSpool writes uploads to uniquely named files in Dir.
type FileSpool struct {
	Dir      string
	MaxBytes int64
}

// NewFileSpool creates dir if needed and returns a spool writing into it.
func NewFileSpool(dir string, maxBytes int64) (*FileSpool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &FileSpool{Dir: dir, MaxBytes: maxBytes}, nil
}

// Put copies r into a new file. A partial file is removed on failure.
func (s *FileSpool) Put(r io.Reader) (Spooled, error) {
	path := filepath.Join(s.Dir, uuid.NewString()+".upload")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}

	src := r
	if s.MaxBytes > 0 {
		src = io.LimitReader(r, s.MaxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.MaxBytes > 0 && n > s.MaxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("spooling upload: %w", err)
	}

	return &spoolFile{path: path}, nil
}

type spoolFile struct {
	path string
	once sync.Once
	err  error
}

func (f *spoolFile) Bytes() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f *spoolFile) Release() error {
	f.once.Do(func() {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.err = fmt.Errorf("removing spool file: %w", err)
		}
	})
	return f.err
}
