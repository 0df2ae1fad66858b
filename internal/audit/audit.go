// 包 audit 审计事件模型与发布接口
//
// 每一次创建、评分、过账、冲正与失败都会产生一条审计事件，消费方为
// 外部审计协作系统。
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/wyfcoding/corebanking/pkg/logger"
)

// Event 审计事件
type Event struct {
	EventType  string                 `json:"event_type"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	Status     string                 `json:"status"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Publisher 审计事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher 仅写结构化日志的发布器，Kafka 关闭时使用
type LogPublisher struct{}

// Publish 记录审计事件日志
func (LogPublisher) Publish(ctx context.Context, event Event) error {
	logger.Info(ctx, "audit event",
		"event_type", event.EventType,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"action", event.Action,
		"status", event.Status,
	)
	return nil
}

// Recorder 内存记录器，测试用
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder 创建内存记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish 记录事件
func (r *Recorder) Publish(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events 返回已记录事件的副本
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
