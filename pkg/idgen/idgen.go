// Package idgen 提供雪花算法 ID 生成器与带业务前缀的 ID
package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake 雪花算法 ID 生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	sequence  int64
	nodeID    int64
}

// New 创建雪花 ID 生成器，nodeID 取低 10 位
func New(nodeID int64) *Snowflake {
	return &Snowflake{nodeID: nodeID & 0x3FF}
}

// Generate 生成全局递增 ID：timestamp(41) + nodeID(10) + sequence(12)
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & 0xFFF
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return (now << 22) | (s.nodeID << 12) | s.sequence
}

// WithPrefix 生成带业务前缀的 ID，如 TXN、ENT、ALT、RVS
func (s *Snowflake) WithPrefix(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, s.Generate())
}
