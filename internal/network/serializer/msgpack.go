package serializer

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackSerializer 使用 MessagePack 进行二进制序列化。
//
// 说明：
//   - 解码到 any 时 map 统一为 map[string]any，便于上层按 key 取值；
//   - []byte 以 bin 类型编码，二进制像素数据无需额外转义。
type MsgpackSerializer struct{}

// 编译期断言：确保 MsgpackSerializer 实现了 Serializer 接口。
var _ Serializer = (*MsgpackSerializer)(nil)

func (MsgpackSerializer) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackSerializer) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeMap()
	})
	return dec.Decode(v)
}
