package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DirState 描述启动时缓存目录的检查结果。
type DirState int

const (
	// DirExisted 表示目录已存在，未做任何修改。
	DirExisted DirState = iota
	// DirCreated 表示目录原本不存在，已被创建。
	DirCreated
)

// PrepareDir 确保缓存目录存在：不存在时递归创建；存在但不是目录，
// 或检查时遇到 "不存在" 以外的错误，都视为致命错误返回。
func PrepareDir(basePath string) (DirState, error) {
	if basePath == "" {
		return DirExisted, errors.New("cache path required")
	}

	info, err := os.Stat(basePath)
	switch {
	case err == nil:
		if !info.IsDir() {
			return DirExisted, fmt.Errorf("cache path %s is not a directory", basePath)
		}
		return DirExisted, nil
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(basePath, 0o755); err != nil {
			return DirCreated, fmt.Errorf("create cache path: %w", err)
		}
		return DirCreated, nil
	default:
		return DirExisted, fmt.Errorf("check cache path: %w", err)
	}
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}

	if _, err := PrepareDir(abs); err != nil {
		return nil, err
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[Code]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 串行化同一状态码的写入/删除，读取依赖 rename 的原子性无需加锁。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[Code]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Get(ctx context.Context, code Code) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath := s.entryPath(code)
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotRegular
	}

	return &ReadResult{
		Entry: Entry{
			Code:      code,
			FilePath:  filePath,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		},
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, code Code, body io.Reader) (*Entry, error) {
	unlock := s.lockEntry(code)
	defer unlock()

	filePath := s.entryPath(code)
	tempFile, err := os.CreateTemp(s.basePath, ".statuscat-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Code:      code,
		FilePath:  filePath,
		SizeBytes: written,
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Remove(ctx context.Context, code Code) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(code)
	defer unlock()

	if err := os.Remove(s.entryPath(code)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *fileStore) lockEntry(code Code) func() {
	s.mu.Lock()
	lock := s.locks[code]
	if lock == nil {
		lock = &entryLock{}
		s.locks[code] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, code)
		}
		s.mu.Unlock()
	}
}

// entryPath 只接受 ParseCode 产出的 Code，因此无需再做路径穿越检查。
func (s *fileStore) entryPath(code Code) string {
	return filepath.Join(s.basePath, code.FileName())
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
