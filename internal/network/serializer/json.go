package serializer

import (
	"github.com/lk2023060901/pixelbridge/internal/json"
)

// JSONSerializer 使用 internal/json（基于 bytedance/sonic）实现 JSON 编解码。
type JSONSerializer struct{}

// 编译期断言：确保 JSONSerializer 实现了 Serializer 接口。
var _ Serializer = (*JSONSerializer)(nil)

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal 解码到 any 时整数保持为 int64，转发给编辑器时不会变成浮点数。
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.UnmarshalInts(data, v)
}
