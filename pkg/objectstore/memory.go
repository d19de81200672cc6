package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/dandiarchive/dandipub/dpapi"
)

// Object is what Memory keeps for each key.
type Object struct {
	Data []byte
	Options
}

// Memory is a Store that keeps objects in a map.
// Intended for tests and local runs without a bucket.
type Memory struct {
	Bucket string

	mu      sync.Mutex
	objects map[string]Object

	// FailOn, when set, is consulted before every operation;
	// a non-nil result is returned as the cause of a store error.
	FailOn func(op, key string) error
}

var _ Store = (*Memory)(nil)

var errNoSuchKey = errors.New("no such key")

func NewMemory(bucket string) *Memory {
	return &Memory{Bucket: bucket, objects: map[string]Object{}}
}

func (m *Memory) fail(op, key string) error {
	if m.FailOn == nil {
		return nil
	}
	if err := m.FailOn(op, key); err != nil {
		return dpapi.ErrorStore(op, key, err)
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.fail("head", key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, opts Options) error {
	if err := m.fail("put", key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return dpapi.ErrorStore("put", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: data, Options: opts}
	return nil
}

func (m *Memory) Copy(ctx context.Context, src, dst string, opts Options) error {
	if err := m.fail("copy", src); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[src]
	if !ok {
		return dpapi.ErrorStore("copy", src, errNoSuchKey)
	}
	if opts.ContentType == "" {
		opts.ContentType = obj.ContentType
	}
	m.objects[dst] = Object{Data: bytes.Clone(obj.Data), Options: opts}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := m.fail("delete", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return m.fail("head bucket", m.Bucket)
}

func (m *Memory) URI(key string) string {
	return "s3://" + m.Bucket + "/" + key
}

// Get returns the object stored at key.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys lists stored keys with the given prefix, sorted.
func (m *Memory) Keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
