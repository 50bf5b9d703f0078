package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound 表示请求的工件不存在。
var ErrNotFound = errors.New("artifact not found")

// docQueueDir 以 “.” 开头，合法 crate 名称不可能与之冲突。
const docQueueDir = ".doc-queue"

// Store 以 basePath 为根目录管理 write-once 的工件文件。
// 同一根目录在进程内复用一份实例。
type Store struct {
	basePath string
}

// NewStore 解析根目录并确保其存在。
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Store{basePath: abs}, nil
}

// BasePath 返回存储根目录的绝对路径。
func (s *Store) BasePath() string {
	return s.basePath
}

// CratePath 计算 (name, version) 的确定性存储路径。name 与 version 均已通过
// 字符集校验，不含路径分隔符。
func (s *Store) CratePath(name, version string) string {
	file := fmt.Sprintf("%s-%s.crate", name, version)
	return filepath.Join(s.basePath, name, file)
}

// Exists 报告路径上是否已有完整工件。写入走临时文件 + rename，可见即完整。
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// AddBinPackage 将工件字节写入确定性路径并返回 SHA-256 十六进制校验和。
// 调用返回成功后，对同一 (name, version) 的读取保证返回完全相同的字节。
func (s *Store) AddBinPackage(ctx context.Context, name, version string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filePath := s.CratePath(name, version)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".crate-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return "", writeErr
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// GetFile 返回路径上的完整字节；不存在返回 ErrNotFound。
func (s *Store) GetFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// CreateRandDocQueuePath 分配一条不会冲突的文档暂存目录并立即创建。
func (s *Store) CreateRandDocQueuePath() (string, error) {
	dir := filepath.Join(s.basePath, docQueueDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
