package codec

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/pixelbridge/internal/json"
	"github.com/lk2023060901/pixelbridge/internal/network/serializer"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// Message 为解码后的入站消息：一个以字符串为 key 的映射。
type Message = map[string]any

// Codec 抽象了“从业务对象到 WebSocket 帧，以及从帧回到业务对象”的编解码流程。
//
// Pipeline（写出 Encode）：
//
//	kind != "" : {kind: value} --> serializer --> Frame
//	kind == "" : value --> [按编码规则透传] --> serializer --> Frame
//
// Pipeline（读入 Decode）：
//
//	payload --> serializer --> Message
type Codec interface {
	// Name 返回编码名称，用于日志与错误信息。
	Name() string

	// Encode 将 {kind: value} 编码为一帧；kind 为空时按透传规则编码 value。
	Encode(kind string, value any) (session.Frame, error)

	// Decode 将一帧载荷解码为 Message。
	//
	// 载荷非法或顶层不是映射时返回 merr.ErrDecodeFailed，调用方记录日志后丢弃该消息。
	Decode(payload []byte) (Message, error)
}

// Options 用于构造 Codec 的依赖注入参数。
type Options struct {
	Name       string
	Serializer serializer.Serializer
	// FrameType 决定出站帧类型与透传规则：二进制帧走结构化透传，文本帧原样发送字符串。
	FrameType session.FrameType
}

// New 创建一个基于给定依赖的 Codec。
func New(opts Options) (Codec, error) {
	if opts.Serializer == nil {
		return nil, errors.New("codec: serializer is nil")
	}
	if opts.Name == "" {
		opts.Name = fmt.Sprintf("%T", opts.Serializer)
	}
	base := baseCodec{name: opts.Name, ser: opts.Serializer}

	switch opts.FrameType {
	case session.FrameBinary:
		return &binaryCodec{baseCodec: base}, nil
	case session.FrameText:
		return &textCodec{baseCodec: base}, nil
	default:
		return nil, errors.Newf("codec: unsupported frame type %d", opts.FrameType)
	}
}

type baseCodec struct {
	name string
	ser  serializer.Serializer
}

func (c *baseCodec) Name() string {
	return c.name
}

func (c *baseCodec) Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, merr.WrapErrDecodeFailed(c.name, nil)
	}
	var v any
	if err := c.ser.Unmarshal(payload, &v); err != nil {
		return nil, merr.WrapErrDecodeFailed(c.name, err)
	}
	msg, ok := v.(map[string]any)
	if !ok {
		return nil, merr.WrapErrDecodeFailed(c.name, errors.Newf("top-level value is %T, want map", v))
	}
	return msg, nil
}

func (c *baseCodec) marshal(v any) ([]byte, error) {
	data, err := c.ser.Marshal(v)
	if err != nil {
		return nil, merr.WrapErrEncodeFailed(c.name, err)
	}
	return data, nil
}

// binaryCodec 为编辑器侧的二进制编码。
//
// 透传规则（kind 为空）：
//   - value 为文本且形似 JSON 对象/数组时，先按 JSON 解析再编码为结构化数据；
//   - 其它情况原样编码 value。
type binaryCodec struct {
	baseCodec
}

var _ Codec = (*binaryCodec)(nil)

func (c *binaryCodec) Encode(kind string, value any) (session.Frame, error) {
	if kind != "" {
		value = map[string]any{kind: value}
	} else {
		value = parseJSONText(value)
	}
	data, err := c.marshal(value)
	if err != nil {
		return session.Frame{}, err
	}
	return session.Frame{Type: session.FrameBinary, Payload: data}, nil
}

// textCodec 为管线侧的文本编码。
//
// 透传规则（kind 为空）：string 与 []byte 原样发送，其它值编码为文本。
type textCodec struct {
	baseCodec
}

var _ Codec = (*textCodec)(nil)

func (c *textCodec) Encode(kind string, value any) (session.Frame, error) {
	if kind == "" {
		switch v := value.(type) {
		case string:
			return session.Frame{Type: session.FrameText, Payload: []byte(v)}, nil
		case []byte:
			return session.Frame{Type: session.FrameText, Payload: v}, nil
		}
	} else {
		value = map[string]any{kind: value}
	}
	data, err := c.marshal(value)
	if err != nil {
		return session.Frame{}, err
	}
	return session.Frame{Type: session.FrameText, Payload: data}, nil
}

// parseJSONText 对形似 JSON 对象/数组的文本做一次解析，失败时返回原值。
func parseJSONText(value any) any {
	text, ok := value.(string)
	if !ok {
		return value
	}

	trimmed := bytes.TrimSpace([]byte(text))
	if len(trimmed) < 2 {
		return value
	}
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	if !(first == '{' && last == '}') && !(first == '[' && last == ']') {
		return value
	}

	var parsed any
	if err := json.UnmarshalInts(trimmed, &parsed); err != nil {
		return value
	}
	return parsed
}
