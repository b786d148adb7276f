package cache

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore 在磁盘缓存前维护一层带过期时间的内存副本，
// PUT/DELETE 总是先落盘再刷新内存，未命中时回落到磁盘。
//
// gens 记录每个状态码被 PUT/DELETE 修改的次数：Get 只在读盘前后代数一致时
// 回填内存，避免把并发写入之前读到的旧字节写回内存。
type memoryStore struct {
	inner Store
	items *gocache.Cache

	mu   sync.Mutex
	gens map[Code]uint64
}

type memoryItem struct {
	entry Entry
	data  []byte
}

// NewMemoryStore 用 go-cache 包装 inner；ttl <= 0 时直接返回 inner，不启用内存层。
func NewMemoryStore(inner Store, ttl time.Duration) Store {
	if ttl <= 0 || inner == nil {
		return inner
	}
	return &memoryStore{
		inner: inner,
		items: gocache.New(ttl, 2*ttl),
		gens:  make(map[Code]uint64),
	}
}

func (s *memoryStore) Get(ctx context.Context, code Code) (*ReadResult, error) {
	if value, ok := s.items.Get(code.String()); ok {
		if item, ok := value.(memoryItem); ok {
			return item.result(), nil
		}
	}

	gen := s.generation(code)
	result, err := s.inner.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()

	data, err := io.ReadAll(result.Reader)
	if err != nil {
		return nil, err
	}
	entry := result.Entry
	entry.SizeBytes = int64(len(data))

	item := memoryItem{entry: entry, data: data}
	s.mu.Lock()
	if s.gens[code] == gen {
		s.items.SetDefault(code.String(), item)
	}
	s.mu.Unlock()
	return item.result(), nil
}

func (s *memoryStore) Put(ctx context.Context, code Code, body io.Reader) (*Entry, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	s.items.Delete(code.String())
	entry, err := s.inner.Put(ctx, code, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.gens[code]++
	s.items.SetDefault(code.String(), memoryItem{entry: *entry, data: data})
	s.mu.Unlock()
	return entry, nil
}

func (s *memoryStore) Remove(ctx context.Context, code Code) error {
	s.items.Delete(code.String())
	err := s.inner.Remove(ctx, code)

	s.mu.Lock()
	s.gens[code]++
	s.items.Delete(code.String())
	s.mu.Unlock()
	return err
}

func (s *memoryStore) generation(code Code) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[code]
}

func (i memoryItem) result() *ReadResult {
	return &ReadResult{
		Entry:  i.entry,
		Reader: memoryReader{bytes.NewReader(i.data)},
	}
}

type memoryReader struct {
	*bytes.Reader
}

func (memoryReader) Close() error { return nil }
