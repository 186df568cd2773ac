// internal/llm/schema.go
package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// 支持的结构类型
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)

// Schema 输出结构约束，是 JSON Schema 与 Gemini responseSchema 的公共子集
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	MinItems    *int               `json:"minItems,omitempty"`
	MaxItems    *int               `json:"maxItems,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`

	once     sync.Once
	compiled *jsonschema.Schema
	compErr  error
}

// IntPtr 辅助构造 MinItems/MaxItems
func IntPtr(v int) *int { return &v }

// PropertyNames 返回排序后的属性名，保证序列化顺序稳定
func (s *Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JSONSchema 转换为标准 JSON Schema 文档
func (s *Schema) JSONSchema() map[string]interface{} {
	return s.toMap(false)
}

// GeminiSchema 转换为 REST 接口 responseSchema 使用的 OpenAPI 子集（类型大写）
func (s *Schema) GeminiSchema() map[string]interface{} {
	return s.toMap(true)
}

func (s *Schema) toMap(gemini bool) map[string]interface{} {
	out := map[string]interface{}{}
	if gemini {
		out["type"] = strings.ToUpper(s.Type)
	} else {
		out["type"] = s.Type
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for _, name := range s.PropertyNames() {
			props[name] = s.Properties[name].toMap(gemini)
		}
		out["properties"] = props
		if gemini {
			out["propertyOrdering"] = s.PropertyNames()
		}
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		out["items"] = s.Items.toMap(gemini)
	}
	if s.MinItems != nil {
		out["minItems"] = *s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.MinLength != nil && !gemini {
		out["minLength"] = *s.MinLength
	}
	return out
}

// Validate 校验已解码的 JSON 值，返回第一个违反约束的描述
func (s *Schema) Validate(data interface{}) error {
	s.once.Do(func() {
		raw, err := json.Marshal(s.JSONSchema())
		if err != nil {
			s.compErr = err
			return
		}
		s.compiled, s.compErr = jsonschema.NewCompiler().Compile(raw)
	})
	if s.compErr != nil {
		return fmt.Errorf("编译输出结构失败: %w", s.compErr)
	}

	result := s.compiled.Validate(data)
	if result.IsValid() {
		return nil
	}

	fields := make([]string, 0, len(result.Errors))
	for field := range result.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		return fmt.Errorf("输出不符合结构约束 %s: %s", field, result.Errors[field].Message)
	}
	return fmt.Errorf("输出不符合结构约束")
}
