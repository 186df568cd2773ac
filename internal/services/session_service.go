// internal/services/session_service.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/utils"
)

// 状态机拒绝操作时的消息
const (
	msgSessionNotFound   = "세션을 찾을 수 없습니다."
	msgAnalysisRunning   = "이미 분석이 진행 중입니다."
	msgGenerationRunning = "이미 스크립트를 생성 중입니다."
	msgNotAtInput        = "대본 입력 단계에서만 분석할 수 있습니다."
	msgNotAtSelection    = "주제 선택 단계에서만 스크립트를 생성할 수 있습니다."
	msgNoPreviousStep    = "이전 단계가 없습니다."
	msgTopicOutOfRange   = "선택한 주제가 존재하지 않습니다."
)

// ScriptAnalyzer 分析请求
type ScriptAnalyzer interface {
	Analyze(ctx context.Context, cred models.Credential, script string) (*models.Analysis, error)
}

// ScriptGenerator 生成请求
type ScriptGenerator interface {
	Generate(ctx context.Context, cred models.Credential, originalScript, topic string) (*models.GeneratedContent, error)
}

// CredentialProvider 提供当前凭据
type CredentialProvider interface {
	Current() models.Credential
}

// SessionListener 会话每次变化后收到最新快照
type SessionListener func(view models.SessionView)

// TopicChoice 选择建议主题（Index）或输入自定义主题（Custom）
type TopicChoice struct {
	Index  *int   `json:"index,omitempty"`
	Custom string `json:"custom,omitempty"`
}

// SessionOptions 会话服务选项
type SessionOptions struct {
	TTL     time.Duration
	Metrics *utils.APIMetrics
}

// SessionService 会话状态机：输入 → 选题 → 结果。
// 每次发起请求或用户导航都会递增会话版本，远程结果只在版本未变时写回
type SessionService struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	locks    *LockManager

	analyzer    ScriptAnalyzer
	generator   ScriptGenerator
	credentials CredentialProvider

	listenersMu sync.RWMutex
	listeners   map[int]SessionListener
	nextID      int

	ttl     time.Duration
	metrics *utils.APIMetrics
	logger  *utils.Logger
	now     func() time.Time

	inflight sync.WaitGroup
}

// NewSessionService 创建会话服务
func NewSessionService(analyzer ScriptAnalyzer, generator ScriptGenerator, credentials CredentialProvider, opts SessionOptions) *SessionService {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Metrics == nil {
		opts.Metrics = utils.NewAPIMetrics()
	}
	return &SessionService{
		sessions:    make(map[string]*models.Session),
		locks:       NewLockManager(opts.TTL),
		analyzer:    analyzer,
		generator:   generator,
		credentials: credentials,
		listeners:   make(map[int]SessionListener),
		ttl:         opts.TTL,
		metrics:     opts.Metrics,
		logger:      utils.GetLogger(),
		now:         time.Now,
	}
}

// Subscribe 注册监听器，返回取消函数
func (s *SessionService) Subscribe(l SessionListener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *SessionService) notify(view models.SessionView) {
	s.listenersMu.RLock()
	listeners := make([]SessionListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(view)
	}
}

// Create 创建默认状态的新会话
func (s *SessionService) Create() models.SessionView {
	sess := models.NewSession(uuid.NewString(), s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.Collector().SetGauge("sessions_active", int64(count))
	s.logger.Debug("session created", map[string]interface{}{"session_id": sess.ID})
	return sess.View()
}

// Get 返回会话快照
func (s *SessionService) Get(id string) (models.SessionView, error) {
	return s.withSession(id, false, func(*models.Session) error { return nil })
}

// Delete 删除会话，进行中的请求结果会被丢弃
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError(msgSessionNotFound, nil)
	}
	s.locks.Forget(id)
	s.metrics.Collector().SetGauge("sessions_active", int64(count))
	return nil
}

func (s *SessionService) lookup(id string) (*models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// withSession 在会话锁内执行 fn；mutate 为 true 时更新时间戳并通知监听器
func (s *SessionService) withSession(id string, mutate bool, fn func(*models.Session) error) (models.SessionView, error) {
	var view models.SessionView
	err := s.locks.ExecuteWithLock(id, func() error {
		sess, ok := s.lookup(id)
		if !ok {
			return apperrors.NewNotFoundError(msgSessionNotFound, nil)
		}

		from := sess.Step
		if err := fn(sess); err != nil {
			return err
		}
		if mutate {
			sess.UpdatedAt = s.now()
			if from != sess.Step {
				s.metrics.RecordSessionTransition(string(from), string(sess.Step))
			}
		}
		view = sess.View()
		return nil
	})
	if err == nil && mutate {
		s.notify(view)
	}
	return view, err
}

// UpdateScript 保存输入页的草稿
func (s *SessionService) UpdateScript(id, script string) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		if sess.Step != models.StepInput {
			return apperrors.NewConflictError(msgNotAtInput, nil)
		}
		if sess.Loading == models.LoadingAnalyzing {
			return apperrors.NewConflictError(msgAnalysisRunning, nil)
		}
		sess.OriginalScript = script
		return nil
	})
}

// beginAnalysis 检查前置条件并进入分析中状态，返回版本令牌和待分析文本
func (s *SessionService) beginAnalysis(id, script string) (uint64, string, models.SessionView, error) {
	var token uint64
	var text string
	view, err := s.withSession(id, true, func(sess *models.Session) error {
		if sess.Loading == models.LoadingAnalyzing {
			return apperrors.NewConflictError(msgAnalysisRunning, nil)
		}
		if sess.Step != models.StepInput {
			return apperrors.NewConflictError(msgNotAtInput, nil)
		}

		candidate := sess.OriginalScript
		if script != "" {
			candidate = script
		}
		if strings.TrimSpace(candidate) == "" {
			return apperrors.NewValidationError(apperrors.MsgScriptRequired, nil)
		}

		sess.OriginalScript = candidate
		sess.Version++
		sess.Loading = models.LoadingAnalyzing
		sess.ErrorMessage = ""
		token = sess.Version
		text = candidate
		return nil
	})
	return token, text, view, err
}

// finishAnalysis 写回分析结果；版本已变化时丢弃
func (s *SessionService) finishAnalysis(id string, token uint64, result *models.Analysis, callErr error) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		if sess.Version != token {
			s.discard(sess, "analyze", token)
			return nil
		}
		if callErr != nil {
			sess.Loading = models.LoadingError
			sess.ErrorMessage = apperrors.UserMessage(callErr, apperrors.OpAnalyze)
			return nil
		}
		sess.Analysis = result
		sess.Generated = nil
		sess.Step = models.StepSelection
		sess.Loading = models.LoadingIdle
		sess.ErrorMessage = ""
		return nil
	})
}

// Analyze 分析并等待结果。script 为空时使用已保存的草稿。
// 远程调用的失败记录在会话中，返回的 error 只表示请求被状态机拒绝
func (s *SessionService) Analyze(ctx context.Context, id, script string) (models.SessionView, error) {
	token, text, view, err := s.beginAnalysis(id, script)
	if err != nil {
		return view, err
	}
	return s.runAnalysis(ctx, id, token, text)
}

// AnalyzeAsync 进入分析中状态后立即返回，结果通过监听器推送
func (s *SessionService) AnalyzeAsync(ctx context.Context, id, script string) (models.SessionView, error) {
	token, text, view, err := s.beginAnalysis(id, script)
	if err != nil {
		return view, err
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_, _ = s.runAnalysis(context.WithoutCancel(ctx), id, token, text)
	}()
	return view, nil
}

func (s *SessionService) runAnalysis(ctx context.Context, id string, token uint64, text string) (models.SessionView, error) {
	s.metrics.Collector().IncGauge("requests_inflight")
	result, callErr := s.analyzer.Analyze(ctx, s.credentials.Current(), text)
	s.metrics.Collector().DecGauge("requests_inflight")

	if callErr != nil {
		s.logger.Warn("analysis failed", map[string]interface{}{
			"session_id": id,
			"type":       apperrors.TypeOf(callErr),
			"error":      callErr,
		})
	}
	return s.finishAnalysis(id, token, result, callErr)
}

// beginGeneration 检查前置条件并解析主题
func (s *SessionService) beginGeneration(id string, choice TopicChoice) (uint64, string, string, models.SessionView, error) {
	var token uint64
	var script, topic string
	view, err := s.withSession(id, true, func(sess *models.Session) error {
		if sess.Loading == models.LoadingGenerating {
			return apperrors.NewConflictError(msgGenerationRunning, nil)
		}
		if sess.Step != models.StepSelection || sess.Analysis == nil {
			return apperrors.NewConflictError(msgNotAtSelection, nil)
		}

		resolved, err := resolveTopic(sess.Analysis, choice)
		if err != nil {
			return err
		}

		sess.Version++
		sess.Loading = models.LoadingGenerating
		sess.ErrorMessage = ""
		token = sess.Version
		script = sess.OriginalScript
		topic = resolved
		return nil
	})
	return token, script, topic, view, err
}

func resolveTopic(analysis *models.Analysis, choice TopicChoice) (string, error) {
	if choice.Index != nil {
		i := *choice.Index
		if i < 0 || i >= len(analysis.SuggestedTopics) {
			return "", apperrors.NewValidationError(msgTopicOutOfRange, nil)
		}
		return analysis.SuggestedTopics[i], nil
	}
	topic := strings.TrimSpace(choice.Custom)
	if topic == "" {
		return "", apperrors.NewValidationError(apperrors.MsgTopicRequired, nil)
	}
	return topic, nil
}

func (s *SessionService) finishGeneration(id string, token uint64, result *models.GeneratedContent, callErr error) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		if sess.Version != token {
			s.discard(sess, "generate", token)
			return nil
		}
		if callErr != nil {
			sess.Loading = models.LoadingError
			sess.ErrorMessage = apperrors.UserMessage(callErr, apperrors.OpGenerate)
			return nil
		}
		sess.Generated = result
		sess.Step = models.StepResult
		sess.Loading = models.LoadingComplete
		sess.ErrorMessage = ""
		return nil
	})
}

// Generate 按选择的主题生成稿件并等待结果
func (s *SessionService) Generate(ctx context.Context, id string, choice TopicChoice) (models.SessionView, error) {
	token, script, topic, view, err := s.beginGeneration(id, choice)
	if err != nil {
		return view, err
	}
	return s.runGeneration(ctx, id, token, script, topic)
}

// GenerateAsync 进入生成中状态后立即返回
func (s *SessionService) GenerateAsync(ctx context.Context, id string, choice TopicChoice) (models.SessionView, error) {
	token, script, topic, view, err := s.beginGeneration(id, choice)
	if err != nil {
		return view, err
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		_, _ = s.runGeneration(context.WithoutCancel(ctx), id, token, script, topic)
	}()
	return view, nil
}

func (s *SessionService) runGeneration(ctx context.Context, id string, token uint64, script, topic string) (models.SessionView, error) {
	s.metrics.Collector().IncGauge("requests_inflight")
	result, callErr := s.generator.Generate(ctx, s.credentials.Current(), script, topic)
	s.metrics.Collector().DecGauge("requests_inflight")

	if callErr != nil {
		s.logger.Warn("generation failed", map[string]interface{}{
			"session_id": id,
			"type":       apperrors.TypeOf(callErr),
			"error":      callErr,
		})
	}
	return s.finishGeneration(id, token, result, callErr)
}

func (s *SessionService) discard(sess *models.Session, op string, token uint64) {
	s.metrics.RecordStaleResponse(op)
	s.logger.Info("stale response discarded", map[string]interface{}{
		"session_id": sess.ID,
		"operation":  op,
		"token":      token,
		"version":    sess.Version,
	})
}

// BackToInput 从选题页返回输入页，丢弃分析和生成结果
func (s *SessionService) BackToInput(id string) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		if sess.Step != models.StepSelection {
			return apperrors.NewConflictError(msgNoPreviousStep, nil)
		}
		backToInput(sess)
		return nil
	})
}

// BackToSelection 从结果页返回选题页，生成结果保留但不展示
func (s *SessionService) BackToSelection(id string) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		if sess.Step != models.StepResult {
			return apperrors.NewConflictError(msgNoPreviousStep, nil)
		}
		backToSelection(sess)
		return nil
	})
}

// Back 返回上一步
func (s *SessionService) Back(id string) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		switch sess.Step {
		case models.StepResult:
			backToSelection(sess)
		case models.StepSelection:
			backToInput(sess)
		default:
			return apperrors.NewConflictError(msgNoPreviousStep, nil)
		}
		return nil
	})
}

func backToInput(sess *models.Session) {
	sess.Version++
	sess.Step = models.StepInput
	sess.Analysis = nil
	sess.Generated = nil
	sess.Loading = models.LoadingIdle
	sess.ErrorMessage = ""
}

func backToSelection(sess *models.Session) {
	sess.Version++
	sess.Step = models.StepSelection
	sess.Loading = models.LoadingIdle
	sess.ErrorMessage = ""
}

// Reset 重新开始：所有字段恢复默认值
func (s *SessionService) Reset(id string) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		sess.Version++
		sess.ResetFields()
		return nil
	})
}

// DismissError 关闭错误提示
func (s *SessionService) DismissError(id string) (models.SessionView, error) {
	return s.withSession(id, true, func(sess *models.Session) error {
		sess.ErrorMessage = ""
		if sess.Loading == models.LoadingError {
			sess.Loading = models.LoadingIdle
		}
		return nil
	})
}

// EvictIdle 删除超过 TTL 未更新且没有进行中请求的会话
func (s *SessionService) EvictIdle(now time.Time) int {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	evicted := 0
	for _, id := range ids {
		_ = s.locks.ExecuteWithLock(id, func() error {
			sess, ok := s.lookup(id)
			if !ok || now.Sub(sess.UpdatedAt) <= s.ttl {
				return nil
			}
			if sess.Loading == models.LoadingAnalyzing || sess.Loading == models.LoadingGenerating {
				return nil
			}
			s.mu.Lock()
			delete(s.sessions, id)
			s.mu.Unlock()
			evicted++
			return nil
		})
	}

	s.locks.CleanupUnused(now)
	s.mu.RLock()
	s.metrics.Collector().SetGauge("sessions_active", int64(len(s.sessions)))
	s.mu.RUnlock()

	if evicted > 0 {
		s.logger.Info("idle sessions evicted", map[string]interface{}{"count": evicted})
	}
	return evicted
}

// RunJanitor 定期清理闲置会话，ctx 取消时退出
func (s *SessionService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.EvictIdle(now)
		}
	}
}

// Wait 等待所有异步请求完成或 ctx 结束
func (s *SessionService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
