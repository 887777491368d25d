package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/memory"
)

// SystemPromptKey 是代理配置中提供指令文本的键
const SystemPromptKey = "system_prompt"

const indentUnit = "  "

// Render 把代理定义、任务类型、输入和用户上下文组装为模型提示词。
// 结果只取决于参数：map 按键排序，不读时钟，不引入随机性。
// 上下文为空时省略 Context 段落。
func Render(def *agent.Definition, taskType string, input map[string]any, bundle *memory.Bundle) string {
	var parts []string

	if def != nil {
		parts = append(parts, renderAgent(def))
		if s, ok := def.Configuration[SystemPromptKey].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, "# Instructions\n"+strings.TrimSpace(s))
		}
	}

	parts = append(parts, "# Task\n"+strings.TrimSpace(taskType))

	if len(input) > 0 {
		var b strings.Builder
		b.WriteString("# Input\n")
		writeValue(&b, normalize(input), 0)
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}

	if !bundle.IsEmpty() {
		parts = append(parts, renderContext(bundle))
	}

	return strings.Join(parts, "\n\n")
}

func renderAgent(def *agent.Definition) string {
	var b strings.Builder
	b.WriteString("# Agent\n")
	name := def.Name
	if name == "" {
		name = def.ID
	}
	fmt.Fprintf(&b, "name: %s\n", name)
	fmt.Fprintf(&b, "id: %s\n", def.ID)
	if def.Type != "" {
		fmt.Fprintf(&b, "type: %s\n", def.Type)
	}
	if len(def.Capabilities) > 0 {
		fmt.Fprintf(&b, "capabilities: %s\n", strings.Join(def.Capabilities, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderContext(bundle *memory.Bundle) string {
	var b strings.Builder
	b.WriteString("# Context\n")

	if len(bundle.Profile) > 0 {
		b.WriteString("## Profile\n")
		writeValue(&b, normalize(bundle.Profile), 0)
	}

	if len(bundle.Interactions) > 0 {
		b.WriteString("## Recent interactions\n")
		for _, in := range bundle.Interactions {
			fmt.Fprintf(&b, "- [%s] %s/%s: %s\n",
				in.At.UTC().Format(time.RFC3339), in.AgentID, in.TaskType, oneLine(in.Output))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// normalize 通过 JSON 往返把结构体等具体类型统一为 map/slice/json.Number
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func writeValue(b *strings.Builder, v any, depth int) {
	indent := strings.Repeat(indentUnit, depth)

	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := val[k]
			if isComposite(child) {
				fmt.Fprintf(b, "%s%s:\n", indent, k)
				writeValue(b, child, depth+1)
				continue
			}
			fmt.Fprintf(b, "%s%s: %s\n", indent, k, scalar(child))
		}
	case []any:
		for _, item := range val {
			if isComposite(item) {
				fmt.Fprintf(b, "%s-\n", indent)
				writeValue(b, item, depth+1)
				continue
			}
			fmt.Fprintf(b, "%s- %s\n", indent, scalar(item))
		}
	default:
		fmt.Fprintf(b, "%s%s\n", indent, scalar(val))
	}
}

func isComposite(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	return false
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return oneLine(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any:
		return "{}"
	case []any:
		return "[]"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
