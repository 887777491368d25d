package prompt

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/BaSui01/campusflow/types"
	"gopkg.in/yaml.v3"
)

// Kind 输入字段的取值类型
type Kind string

const (
	KindAny     Kind = "any"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Schema 描述一种任务类型的输入结构
type Schema struct {
	Required []string        `json:"required,omitempty" yaml:"required,omitempty"`
	Fields   map[string]Kind `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Strict 为 true 时拒绝 Fields 之外的键
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

// Validate 校验输入，返回按字段名排序的全部错误
func (s Schema) Validate(input map[string]any) []FieldError {
	var errs []FieldError

	for _, name := range s.Required {
		if _, ok := input[name]; !ok {
			errs = append(errs, FieldError{Field: name, Message: "is required"})
		}
	}

	for name, value := range input {
		kind, declared := s.Fields[name]
		if !declared {
			if s.Strict {
				errs = append(errs, FieldError{Field: name, Message: "is not allowed"})
			}
			continue
		}
		if !matchesKind(kind, value) {
			errs = append(errs, FieldError{Field: name, Message: fmt.Sprintf("must be %s", kind)})
		}
	}

	sort.Slice(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Message < errs[j].Message
	})
	return errs
}

func matchesKind(kind Kind, v any) bool {
	switch kind {
	case KindAny, "":
		return true
	case KindString:
		_, ok := v.(string)
		return ok
	case KindBoolean:
		_, ok := v.(bool)
		return ok
	case KindNumber:
		_, ok := toFloat(v)
		return ok
	case KindInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// SchemaSet 按任务类型索引的输入结构；未登记的任务类型接受任意 JSON 对象
type SchemaSet map[string]Schema

// Validate 校验某任务类型的输入，失败时返回 INVALID_INPUT
func (s SchemaSet) Validate(taskType string, input map[string]any) error {
	schema, ok := s[taskType]
	if !ok {
		return nil
	}
	errs := schema.Validate(input)
	if len(errs) == 0 {
		return nil
	}

	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return types.NewInvalidInputError(fmt.Sprintf("invalid input for task type %q: %s", taskType, strings.Join(msgs, "; ")))
}

// LoadSchemaSet 从 YAML 文件加载 SchemaSet，顶层键为任务类型
func LoadSchemaSet(path string) (SchemaSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var set SchemaSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}
	for taskType, schema := range set {
		for field, kind := range schema.Fields {
			if !kind.valid() {
				return nil, fmt.Errorf("task type %q field %q: unknown kind %q", taskType, field, kind)
			}
		}
	}
	return set, nil
}

func (k Kind) valid() bool {
	switch k {
	case "", KindAny, KindString, KindNumber, KindInteger, KindBoolean, KindObject, KindArray:
		return true
	}
	return false
}
