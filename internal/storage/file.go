package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// FileBackend keeps one fingerprint per line and syncs after every append.
type FileBackend struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// LoadAll reads the file; a missing file is an empty record.
func (b *FileBackend) LoadAll(_ context.Context) ([]string, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fps []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			fps = append(fps, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return fps, nil
}

func (b *FileBackend) Append(_ context.Context, e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.f == nil {
		f, err := openAppend(b.path)
		if err != nil {
			return err
		}
		b.f = f
	}
	if _, err := b.f.WriteString(e.Fingerprint + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", b.path, err)
	}
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", b.path, err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// openAppend opens path for appending and terminates a last line that was
// left without a newline.
func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		return f, nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, err
	}
	if last[0] != '\n' {
		if _, err := f.WriteString("\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}
