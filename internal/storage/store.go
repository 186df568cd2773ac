// internal/storage/store.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
)

// ErrNotFound 键不存在
var ErrNotFound = errors.New("storage: key not found")

// Store 持久化的键值存储，凭据槽位使用
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// 支持的存储驱动
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}

// Open 按驱动名称创建存储，dataDir 为数据目录
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStorage(filepath.Join(dataDir, "kv"))
	case DriverSQLite:
		return NewSQLiteStorage(filepath.Join(dataDir, "viralscript.db"))
	case DriverMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", driver)
	}
}
