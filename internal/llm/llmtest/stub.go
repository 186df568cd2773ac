// internal/llm/llmtest/stub.go
package llmtest

import (
	"context"
	"sync"

	"github.com/Corphon/ViralScript/internal/llm"
)

// Reply 预设的一次远程调用结果
type Reply struct {
	Text string
	Err  error
	// Wait 非空时调用会阻塞到通道关闭，用于模拟慢响应
	Wait <-chan struct{}
}

// Stub 可编程的提供者，按顺序返回预设结果并记录请求
type Stub struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.CompletionRequest
	keys     []string
}

// Register 以给定名称注册一个共享的 Stub
func Register(name string) *Stub {
	s := &Stub{}
	llm.Register(name, func() llm.Provider {
		return &boundStub{stub: s}
	})
	return s
}

// Push 追加预设结果
func (s *Stub) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Requests 返回收到的请求副本
func (s *Stub) Requests() []llm.CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.CompletionRequest(nil), s.requests...)
}

// Keys 返回每次调用时使用的 API 密钥
func (s *Stub) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Calls 返回调用次数
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Stub) next(key string, req llm.CompletionRequest) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	s.keys = append(s.keys, key)
	if len(s.replies) == 0 {
		return Reply{}
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r
}

// boundStub 每次 GetProvider 创建一个，携带初始化时的密钥
type boundStub struct {
	stub   *Stub
	apiKey string
}

func (b *boundStub) Initialize(config map[string]string) error {
	b.apiKey = config["api_key"]
	return nil
}

func (b *boundStub) GetName() string { return "stub" }

func (b *boundStub) GetSupportedModels() []string { return []string{"stub-model"} }

func (b *boundStub) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r := b.stub.next(b.apiKey, req)
	if r.Wait != nil {
		select {
		case <-r.Wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Text: r.Text, ModelName: req.Model, ProviderName: "stub", TokensUsed: len(r.Text)}, nil
}
