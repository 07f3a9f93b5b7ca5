package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/jittakal/kafcsvconnect/internal/errors"
	"github.com/jittakal/kafcsvconnect/pkg/storage"
)

var _ storage.FileSystem = (*memFS)(nil)

// memFS is an in-memory storage.FileSystem with failure injection.
type memFS struct {
	mu        sync.Mutex
	files     map[string][]byte
	failOpen  map[string]error
	failMove  map[string]error
	failExist error
}

func newMemFS() *memFS {
	return &memFS{
		files:    make(map[string][]byte),
		failOpen: make(map[string]error),
		failMove: make(map[string]error),
	}
}

func (m *memFS) put(p, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = []byte(content)
}

func (m *memFS) has(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[p]
	return ok
}

func (m *memFS) content(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.files[p])
}

// under returns the paths directly inside dir.
func (m *memFS) under(dir string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for p := range m.files {
		if path.Dir(p) == dir {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	return paths
}

func (m *memFS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOpen[p]; err != nil {
		return nil, err
	}
	data, ok := m.files[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memFS) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	return nil, errors.New("not supported")
}

func (m *memFS) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failExist != nil {
		return false, m.failExist
	}
	_, ok := m.files[p]
	return ok, nil
}

func (m *memFS) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; !ok {
		return fs.ErrNotExist
	}
	delete(m.files, p)
	return nil
}

func (m *memFS) Move(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failMove[path.Dir(dst)]; err != nil {
		return err
	}
	if _, ok := m.files[dst]; ok {
		return apperrors.ErrDuplicateFile
	}
	data, ok := m.files[src]
	if !ok {
		return fs.ErrNotExist
	}
	m.files[dst] = data
	delete(m.files, src)
	return nil
}

func (m *memFS) ListFileNames(ctx context.Context, dir string) ([]string, error) {
	var names []string
	for _, p := range m.under(strings.TrimSuffix(dir, "/")) {
		names = append(names, path.Base(p))
	}
	return names, nil
}

func (m *memFS) Close() error { return nil }

// fakeOffsets is an in-memory connector.OffsetReader.
type fakeOffsets struct {
	offsets map[string]map[string]any
	err     error
	calls   int
}

func newFakeOffsets() *fakeOffsets {
	return &fakeOffsets{offsets: make(map[string]map[string]any)}
}

func (f *fakeOffsets) Offset(ctx context.Context, partition map[string]string) (map[string]any, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	offset, ok := f.offsets[partition[SourcePartitionKey]]
	return offset, ok, nil
}
