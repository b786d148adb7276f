package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CachePath>/<code>.jpeg    # 原始 JPEG 字节
//
// 每个状态码至多对应一个文件，不维护索引或清单文件。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, code Code) (*ReadResult, error)

	// Put 创建或覆盖条目。实现需通过临时文件 + rename 保证写入原子性，
	// 失败时不得留下部分写入或空文件。
	Put(ctx context.Context, code Code, body io.Reader) (*Entry, error)

	// Remove 删除条目；条目不存在时返回 ErrNotFound。
	Remove(ctx context.Context, code Code) error
}

// Entry 描述一个缓存条目的文件信息。
type Entry struct {
	Code      Code      `json:"code"`
	FilePath  string    `json:"-"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于处理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNotRegular 表示缓存路径被目录等非普通文件占用。
	ErrNotRegular = errors.New("cache entry is not a regular file")
)
