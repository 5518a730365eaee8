// Package json 对 bytedance/sonic 做一层薄封装，统一全项目的 JSON 编解码入口。
package json

import (
	"github.com/bytedance/sonic"
)

var (
	// api 与标准库 encoding/json 行为保持一致（HTML 转义、map key 排序等）。
	api = sonic.ConfigStd

	// intsAPI 在解码到 any 时将整数保留为 int64，而不是 float64。
	intsAPI = sonic.Config{
		EscapeHTML:       true,
		SortMapKeys:      true,
		CompactMarshaler: true,
		CopyString:       true,
		ValidateString:   true,
		UseInt64:         true,
	}.Froze()
)

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalInts 与 Unmarshal 相同，但解码到 any 时整数保留为 int64。
func UnmarshalInts(data []byte, v any) error {
	return intsAPI.Unmarshal(data, v)
}
