// internal/errors/messages.go
package errors

// 面向用户的消息（韩语界面）
const (
	MsgKeyMissing    = "API 키가 설정되지 않았습니다. 오른쪽 상단의 키 아이콘을 클릭하여 API 키를 입력해주세요."
	MsgKeyInvalid    = "API 키가 유효하지 않습니다. 올바른 API 키를 입력했는지 확인해주세요."
	MsgRateLimited   = "API 사용량 한도를 초과했습니다. 잠시 후 다시 시도해주세요."
	MsgEmptyResponse = "AI로부터 응답을 받지 못했습니다."
	MsgParseFailed   = "AI 응답을 파싱하는 중 오류가 발생했습니다. 다시 시도해주세요."

	MsgScriptRequired = "분석할 대본을 입력해주세요."
	MsgTopicRequired  = "주제를 선택하거나 입력해주세요."
	MsgKeyRequired    = "API 키를 입력해주세요."
)

// Operation 标识发起远程调用的操作，用于选择通用失败消息
type Operation string

const (
	OpAnalyze  Operation = "analyze"
	OpGenerate Operation = "generate"
)

func (op Operation) unknownTemplate() string {
	switch op {
	case OpGenerate:
		return "스크립트 생성 중 오류가 발생했습니다: %s"
	default:
		return "분석 중 오류가 발생했습니다: %s"
	}
}
