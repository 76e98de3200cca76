package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tethbox/backend/internal/storage"
)

// Store 文件系统 blob 存储实现
//
// blob 路径使用 "/" 分隔，相对于根目录，例如 attachments/<messageID>/<uuid>。
type Store struct {
	basePath string
}

var _ storage.BlobStore = (*Store)(nil)

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{basePath: absPath}, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Put 写入 blob，已存在时覆盖
func (s *Store) Put(_ context.Context, path string, data []byte, _ string) error {
	full, err := resolve(s.basePath, path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// 先写临时文件再重命名，避免读到写了一半的内容
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

// Open 打开 blob 用于读取，返回内容长度
func (s *Store) Open(_ context.Context, path string) (io.ReadCloser, int64, error) {
	full, err := resolve(s.basePath, path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, storage.ErrBlobNotFound
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// Delete 删除 blob，并清理留下的空目录
func (s *Store) Delete(_ context.Context, path string) error {
	full, err := resolve(s.basePath, path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrBlobNotFound
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	// 目录非空时 Remove 失败，忽略即可
	for dir := filepath.Dir(full); dir != s.basePath && len(dir) > len(s.basePath); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Health 检查根目录是否可写
func (s *Store) Health() error {
	f, err := os.CreateTemp(s.basePath, ".health-*")
	if err != nil {
		return fmt.Errorf("blob directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
