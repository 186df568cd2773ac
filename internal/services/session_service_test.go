package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/llm/llmtest"
	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/utils"
)

type analyzerFunc func(ctx context.Context, cred models.Credential, script string) (*models.Analysis, error)

func (f analyzerFunc) Analyze(ctx context.Context, cred models.Credential, script string) (*models.Analysis, error) {
	return f(ctx, cred, script)
}

type generatorFunc func(ctx context.Context, cred models.Credential, script, topic string) (*models.GeneratedContent, error)

func (f generatorFunc) Generate(ctx context.Context, cred models.Credential, script, topic string) (*models.GeneratedContent, error) {
	return f(ctx, cred, script, topic)
}

type staticCredentials models.Credential

func (c staticCredentials) Current() models.Credential { return models.Credential(c) }

func sampleAnalysis() *models.Analysis {
	return &models.Analysis{
		StructuralAnalysis: []string{"훅", "전개", "반전"},
		Tone:               "유쾌함",
		HookStrategy:       "질문으로 시작",
		SuggestedTopics:    []string{"주제 1", "주제 2", "주제 3", "주제 4"},
	}
}

// recorder 记录调用参数，gate 非空时阻塞到关闭
type recorder struct {
	mu     sync.Mutex
	topics []string
	calls  int
	gate   chan struct{}
	err    error
}

func (r *recorder) analyzer() ScriptAnalyzer {
	return analyzerFunc(func(ctx context.Context, cred models.Credential, script string) (*models.Analysis, error) {
		r.mu.Lock()
		r.calls++
		gate, err := r.gate, r.err
		r.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return sampleAnalysis(), nil
	})
}

func (r *recorder) generator() ScriptGenerator {
	return generatorFunc(func(ctx context.Context, cred models.Credential, script, topic string) (*models.GeneratedContent, error) {
		r.mu.Lock()
		r.calls++
		r.topics = append(r.topics, topic)
		n := r.calls
		gate, err := r.gate, r.err
		r.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if err != nil {
			return nil, err
		}
		return &models.GeneratedContent{Title: topic + " 제목", Script: "본문 " + string(rune('0'+n))}, nil
	})
}

func (r *recorder) set(gate chan struct{}, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate, r.err = gate, err
}

func (r *recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newSessions(t *testing.T, r *recorder) *SessionService {
	t.Helper()
	svc := NewSessionService(r.analyzer(), r.generator(), staticCredentials(testKey), SessionOptions{
		TTL:     time.Hour,
		Metrics: utils.NewAPIMetricsWith(utils.NewMetricsCollector()),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Wait(ctx))
	})
	return svc
}

func toSelection(t *testing.T, svc *SessionService) string {
	t.Helper()
	id := svc.Create().ID
	view, err := svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)
	require.Equal(t, models.StepSelection, view.Step)
	return id
}

func TestSessionHappyPath(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)

	view := svc.Create()
	assert.Equal(t, models.StepInput, view.Step)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Equal(t, models.RecommendedScriptLength, view.RecommendedMin)

	view, err := svc.Analyze(context.Background(), view.ID, sampleScript)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Equal(t, sampleAnalysis(), view.Analysis)
	assert.Nil(t, view.Generated)

	idx := 1
	view, err = svc.Generate(context.Background(), view.ID, TopicChoice{Index: &idx})
	require.NoError(t, err)
	assert.Equal(t, models.StepResult, view.Step)
	assert.Equal(t, models.LoadingComplete, view.Loading)
	require.NotNil(t, view.Generated)
	assert.Equal(t, "주제 2 제목", view.Generated.Title)
	assert.Equal(t, []string{"주제 2"}, r.topics)
	assert.NotNil(t, view.Analysis)
}

func TestAnalyzeUsesSavedDraft(t *testing.T) {
	svc := newSessions(t, &recorder{})
	id := svc.Create().ID

	view, err := svc.UpdateScript(id, sampleScript)
	require.NoError(t, err)
	assert.Equal(t, len([]rune(sampleScript)), view.ScriptLength)

	view, err = svc.Analyze(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Equal(t, sampleScript, view.OriginalScript)
}

func TestAnalyzeRequiresScript(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)
	id := svc.Create().ID

	_, err := svc.Analyze(context.Background(), id, "   \n")
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, 0, r.Calls())

	view, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Equal(t, uint64(0), view.Version)
}

func TestOperationGating(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)
	id := svc.Create().ID
	idx := 0

	_, err := svc.Generate(context.Background(), id, TopicChoice{Index: &idx})
	assert.True(t, apperrors.IsConflictError(err))
	_, err = svc.Back(id)
	assert.True(t, apperrors.IsConflictError(err))
	_, err = svc.BackToSelection(id)
	assert.True(t, apperrors.IsConflictError(err))

	_, err = svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)

	_, err = svc.Analyze(context.Background(), id, sampleScript)
	assert.True(t, apperrors.IsConflictError(err))
	_, err = svc.UpdateScript(id, "new draft")
	assert.True(t, apperrors.IsConflictError(err))

	_, err = svc.Get("missing")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, 1, r.Calls())
}

func TestAnalysisFailureKeepsStep(t *testing.T) {
	r := &recorder{}
	r.set(nil, apperrors.NewRateLimitError(errors.New("429")))
	svc := newSessions(t, r)
	id := svc.Create().ID

	view, err := svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)
	assert.Equal(t, models.StepInput, view.Step)
	assert.Equal(t, models.LoadingError, view.Loading)
	assert.Equal(t, apperrors.MsgRateLimited, view.ErrorMessage)
	assert.Equal(t, sampleScript, view.OriginalScript)

	view, err = svc.DismissError(id)
	require.NoError(t, err)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Empty(t, view.ErrorMessage)

	r.set(nil, nil)
	view, err = svc.Analyze(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Empty(t, view.ErrorMessage)
}

func TestRetryAfterErrorWithoutDismiss(t *testing.T) {
	r := &recorder{}
	r.set(nil, errors.New("socket closed"))
	svc := newSessions(t, r)
	id := svc.Create().ID

	view, err := svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)
	assert.Equal(t, "분석 중 오류가 발생했습니다: socket closed", view.ErrorMessage)

	r.set(nil, nil)
	view, err = svc.Analyze(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
}

func TestGenerationFailureStaysOnSelection(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)
	id := toSelection(t, svc)

	r.set(nil, apperrors.NewParseError(errors.New("bad json")))
	view, err := svc.Generate(context.Background(), id, TopicChoice{Custom: "주제"})
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Equal(t, models.LoadingError, view.Loading)
	assert.Equal(t, apperrors.MsgParseFailed, view.ErrorMessage)
	assert.NotNil(t, view.Analysis)

	r.set(nil, nil)
	view, err = svc.Generate(context.Background(), id, TopicChoice{Custom: "주제"})
	require.NoError(t, err)
	assert.Equal(t, models.StepResult, view.Step)
}

func TestTopicChoice(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)
	id := toSelection(t, svc)

	for _, bad := range []int{-1, 4} {
		i := bad
		_, err := svc.Generate(context.Background(), id, TopicChoice{Index: &i})
		assert.True(t, apperrors.IsValidationError(err))
	}
	_, err := svc.Generate(context.Background(), id, TopicChoice{Custom: "  "})
	assert.True(t, apperrors.IsValidationError(err))

	view, err := svc.Generate(context.Background(), id, TopicChoice{Custom: " 내 맘대로 주제 "})
	require.NoError(t, err)
	assert.Equal(t, models.StepResult, view.Step)
	assert.Equal(t, []string{"내 맘대로 주제"}, r.topics)
}

func TestBackNavigation(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)
	id := toSelection(t, svc)

	view, err := svc.Generate(context.Background(), id, TopicChoice{Custom: "A"})
	require.NoError(t, err)
	first := view.Generated

	view, err = svc.Back(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Nil(t, view.Generated)
	assert.NotNil(t, view.Analysis)

	// 重新生成会再次调用远端并覆盖之前的结果
	view, err = svc.Generate(context.Background(), id, TopicChoice{Custom: "A"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Script, view.Generated.Script)
	assert.Equal(t, []string{"A", "A"}, r.topics)

	_, err = svc.BackToSelection(id)
	require.NoError(t, err)
	view, err = svc.BackToInput(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepInput, view.Step)
	assert.Nil(t, view.Analysis)
	assert.Equal(t, sampleScript, view.OriginalScript)

	_, err = svc.BackToInput(id)
	assert.True(t, apperrors.IsConflictError(err))
}

func TestReset(t *testing.T) {
	svc := newSessions(t, &recorder{})
	id := toSelection(t, svc)
	_, err := svc.Generate(context.Background(), id, TopicChoice{Custom: "A"})
	require.NoError(t, err)

	before, err := svc.Get(id)
	require.NoError(t, err)

	view, err := svc.Reset(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepInput, view.Step)
	assert.Empty(t, view.OriginalScript)
	assert.Nil(t, view.Analysis)
	assert.Nil(t, view.Generated)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Greater(t, view.Version, before.Version)
}

func TestConcurrentAnalyzeRejected(t *testing.T) {
	r := &recorder{}
	gate := make(chan struct{})
	r.set(gate, nil)
	svc := newSessions(t, r)
	id := svc.Create().ID

	view, err := svc.AnalyzeAsync(context.Background(), id, sampleScript)
	require.NoError(t, err)
	assert.Equal(t, models.LoadingAnalyzing, view.Loading)

	_, err = svc.Analyze(context.Background(), id, sampleScript)
	assert.True(t, apperrors.IsConflictError(err))

	close(gate)
	require.NoError(t, svc.Wait(context.Background()))

	view, err = svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Equal(t, 1, r.Calls())
}

func TestStaleAnalysisDiscardedAfterReset(t *testing.T) {
	r := &recorder{}
	gate := make(chan struct{})
	r.set(gate, nil)
	svc := newSessions(t, r)
	id := svc.Create().ID

	_, err := svc.AnalyzeAsync(context.Background(), id, sampleScript)
	require.NoError(t, err)

	view, err := svc.Reset(id)
	require.NoError(t, err)
	assert.Equal(t, models.LoadingIdle, view.Loading)

	close(gate)
	require.NoError(t, svc.Wait(context.Background()))

	view, err = svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepInput, view.Step)
	assert.Nil(t, view.Analysis)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Equal(t, int64(1), svc.metrics.Collector().GetCounterValue("session_stale_analyze"))
}

func TestStaleGenerationDiscardedAfterBack(t *testing.T) {
	r := &recorder{}
	svc := newSessions(t, r)
	id := toSelection(t, svc)

	gate := make(chan struct{})
	r.set(gate, nil)
	view, err := svc.GenerateAsync(context.Background(), id, TopicChoice{Custom: "늦은 주제"})
	require.NoError(t, err)
	assert.Equal(t, models.LoadingGenerating, view.Loading)

	_, err = svc.Generate(context.Background(), id, TopicChoice{Custom: "또"})
	assert.True(t, apperrors.IsConflictError(err))

	view, err = svc.BackToInput(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepInput, view.Step)

	close(gate)
	require.NoError(t, svc.Wait(context.Background()))

	view, err = svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepInput, view.Step)
	assert.Nil(t, view.Generated)
	assert.Equal(t, models.LoadingIdle, view.Loading)
	assert.Equal(t, int64(1), svc.metrics.Collector().GetCounterValue("session_stale_generate"))
}

func TestAsyncCompletionIgnoresCanceledRequestContext(t *testing.T) {
	svc := newSessions(t, &recorder{})
	id := svc.Create().ID

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.AnalyzeAsync(ctx, id, sampleScript)
	require.NoError(t, err)
	cancel()

	require.NoError(t, svc.Wait(context.Background()))
	view, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
}

func TestSubscribe(t *testing.T) {
	svc := newSessions(t, &recorder{})
	id := svc.Create().ID

	var mu sync.Mutex
	var seen []models.LoadingState
	unsubscribe := svc.Subscribe(func(v models.SessionView) {
		mu.Lock()
		defer mu.Unlock()
		if v.ID == id {
			seen = append(seen, v.Loading)
		}
	})

	_, err := svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)
	unsubscribe()
	_, err = svc.Reset(id)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.LoadingState{models.LoadingAnalyzing, models.LoadingIdle}, seen)
}

func TestEvictIdle(t *testing.T) {
	svc := newSessions(t, &recorder{})
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old := svc.Create().ID
	now = now.Add(50 * time.Minute)
	fresh := svc.Create().ID

	assert.Equal(t, 1, svc.EvictIdle(now.Add(20*time.Minute)))

	_, err := svc.Get(old)
	assert.True(t, apperrors.IsNotFoundError(err))
	_, err = svc.Get(fresh)
	assert.NoError(t, err)
}

func TestRunJanitorStops(t *testing.T) {
	svc := newSessions(t, &recorder{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestDeleteSession(t *testing.T) {
	svc := newSessions(t, &recorder{})
	id := svc.Create().ID

	require.NoError(t, svc.Delete(id))
	assert.True(t, apperrors.IsNotFoundError(svc.Delete(id)))
}

// 端到端：真实的分析/生成服务 + 可编程提供者
func TestSessionWithRequestors(t *testing.T) {
	llmSvc, stub, settings := newStubLLM(t, LLMOptions{})
	stub.Push(llmtest.Reply{Text: "```json\n" + validAnalysisJSON + "\n```"}, llmtest.Reply{Text: validGenerationJSON})

	svc := NewSessionService(
		NewAnalysisService(llmSvc, settings),
		NewGenerationService(llmSvc, settings),
		staticCredentials(testKey),
		SessionOptions{Metrics: utils.NewAPIMetricsWith(utils.NewMetricsCollector())},
	)
	id := svc.Create().ID

	view, err := svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)
	require.Equal(t, models.StepSelection, view.Step)
	require.Len(t, view.Analysis.SuggestedTopics, SuggestedTopicCount)

	idx := 0
	view, err = svc.Generate(context.Background(), id, TopicChoice{Index: &idx})
	require.NoError(t, err)
	assert.Equal(t, models.StepResult, view.Step)
	assert.Equal(t, "편의점 신상, 진짜 맛있을까?", view.Generated.Title)

	reqs := stub.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Prompt, "편의점 신상 리뷰")
}

func TestSessionWithoutKey(t *testing.T) {
	llmSvc, stub, settings := newStubLLM(t, LLMOptions{})
	svc := NewSessionService(
		NewAnalysisService(llmSvc, settings),
		NewGenerationService(llmSvc, settings),
		staticCredentials(noKey),
		SessionOptions{},
	)
	id := svc.Create().ID

	view, err := svc.Analyze(context.Background(), id, sampleScript)
	require.NoError(t, err)
	assert.Equal(t, models.LoadingError, view.Loading)
	assert.Equal(t, apperrors.MsgKeyMissing, view.ErrorMessage)
	assert.Equal(t, 0, stub.Calls())
}

// 200 字以上的原稿 → 3 个结构点、4 个主题 → 自定义主题 → 结果
func TestKoreanScriptWalkthrough(t *testing.T) {
	script := strings.Repeat("여러분 고양이 좋아하세요? 오늘은 제가 직접 겪은 이야기를 들려드릴게요. ", 6)
	require.GreaterOrEqual(t, utf8.RuneCountInString(script), models.RecommendedScriptLength)

	llmSvc, stub, settings := newStubLLM(t, LLMOptions{})
	stub.Push(
		llmtest.Reply{Text: `{"structuralAnalysis":["질문으로 시작","경험담 전개","구독 유도"],"tone":"유머러스","hookStrategy":"질문으로 시작","suggestedTopics":["강아지 산책","자취 요리","아침 루틴","여행 짐 싸기"]}`},
		llmtest.Reply{Text: `{"title":"고양이 키우기, 현실은?","script":"## 도입\n고양이 키우기 전에 꼭 알아야 할 것!"}`},
	)

	svc := NewSessionService(
		NewAnalysisService(llmSvc, settings),
		NewGenerationService(llmSvc, settings),
		staticCredentials(testKey),
		SessionOptions{},
	)
	id := svc.Create().ID

	view, err := svc.Analyze(context.Background(), id, script)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelection, view.Step)
	assert.Len(t, view.Analysis.StructuralAnalysis, 3)
	assert.Equal(t, "유머러스", view.Analysis.Tone)
	assert.Equal(t, "질문으로 시작", view.Analysis.HookStrategy)
	assert.Len(t, view.Analysis.SuggestedTopics, 4)

	view, err = svc.Generate(context.Background(), id, TopicChoice{Custom: "고양이 키우기"})
	require.NoError(t, err)
	assert.Equal(t, models.StepResult, view.Step)
	assert.Equal(t, models.LoadingComplete, view.Loading)
	assert.Equal(t, "고양이 키우기, 현실은?", view.Generated.Title)
	assert.Equal(t, "# 고양이 키우기, 현실은?\n\n## 도입\n고양이 키우기 전에 꼭 알아야 할 것!", view.Generated.CopyText())

	reqs := stub.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Prompt, "고양이 키우기")
	assert.Contains(t, reqs[1].Prompt, strings.TrimSpace(script))
}
