// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 按会话ID分配互斥锁，长期未使用的锁会被回收
type LockManager struct {
	locks      map[string]*lockInfo
	globalLock sync.Mutex
	lockTTL    time.Duration
}

type lockInfo struct {
	mu       sync.Mutex
	lastUsed time.Time
	refs     int // 正在等待或持有锁的调用数，大于0时不回收
}

// NewLockManager 创建锁管理器
func NewLockManager(ttl time.Duration) *LockManager {
	return &LockManager{
		locks:   make(map[string]*lockInfo),
		lockTTL: ttl,
	}
}

func (lm *LockManager) acquire(id string) *lockInfo {
	lm.globalLock.Lock()
	info, exists := lm.locks[id]
	if !exists {
		info = &lockInfo{}
		lm.locks[id] = info
	}
	info.refs++
	info.lastUsed = time.Now()
	lm.globalLock.Unlock()
	return info
}

func (lm *LockManager) release(info *lockInfo) {
	lm.globalLock.Lock()
	info.refs--
	info.lastUsed = time.Now()
	lm.globalLock.Unlock()
}

// ExecuteWithLock 在会话锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(id string, fn func() error) error {
	info := lm.acquire(id)
	defer lm.release(info)

	info.mu.Lock()
	defer info.mu.Unlock()
	return fn()
}

// Forget 移除会话的锁（会话被删除时调用）
func (lm *LockManager) Forget(id string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	if info, ok := lm.locks[id]; ok && info.refs == 0 {
		delete(lm.locks, id)
	}
}

// CleanupUnused 回收超过 TTL 且没有引用的锁，返回回收数量
func (lm *LockManager) CleanupUnused(now time.Time) int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	removed := 0
	for id, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.lastUsed) > lm.lockTTL {
			delete(lm.locks, id)
			removed++
		}
	}
	return removed
}

// Size 当前持有的锁数量
func (lm *LockManager) Size() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}
