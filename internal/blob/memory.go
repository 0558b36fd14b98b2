package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Memory is an in-process bucket for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	// failures makes Download fail for the listed keys.
	failures map[string]error
}

type memObject struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

func NewMemory() *Memory {
	return &Memory{
		objects:  make(map[string]memObject),
		failures: make(map[string]error),
	}
}

// FailDownload makes subsequent downloads of key return err.
func (m *Memory) FailDownload(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = err
}

func (m *Memory) Upload(_ context.Context, key string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return errors.Wrap(err, "read upload body")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: body, contentType: contentType, updatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.failures[key]; ok {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// List returns objects in key order.
func (m *Memory) List(_ context.Context, prefix string, limit int) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Object, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		out = append(out, Object{Key: k, Size: int64(len(obj.data)), ContentType: obj.contentType, UpdatedAt: obj.updatedAt})
	}
	return out, nil
}
