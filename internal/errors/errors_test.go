package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypePredicatesFollowWrapping(t *testing.T) {
	base := NewRateLimitError(errors.New("429 Too Many Requests"))
	wrapped := fmt.Errorf("analysis: %w", base)

	assert.True(t, IsRateLimitError(wrapped))
	assert.False(t, IsParseError(wrapped))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(wrapped))
	assert.Equal(t, "RATE_LIMIT", base.Code)
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		op   Operation
		want string
	}{
		{"missing key", NewConfigurationError(MsgKeyMissing, nil), OpAnalyze, MsgKeyMissing},
		{"invalid key", NewConfigurationError(MsgKeyInvalid, errors.New("400")), OpGenerate, MsgKeyInvalid},
		{"empty", NewEmptyResponseError(nil), OpAnalyze, MsgEmptyResponse},
		{"parse", NewParseError(errors.New("bad json")), OpGenerate, MsgParseFailed},
		{"unknown analyze", errors.New("boom"), OpAnalyze, "분석 중 오류가 발생했습니다: boom"},
		{"unknown generate", errors.New("boom"), OpGenerate, "스크립트 생성 중 오류가 발생했습니다: boom"},
		{"nil", nil, OpAnalyze, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err, tt.op))
		})
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	err := WrapError(NewNotFoundError("세션을 찾을 수 없습니다", nil), "load", ErrorTypeUnknown)
	assert.True(t, IsNotFoundError(err))

	err = WrapError(errors.New("disk"), "load", ErrorTypeConflict)
	assert.True(t, IsConflictError(err))

	assert.Nil(t, WrapError(nil, "noop", ErrorTypeUnknown))
}
