package codec

import (
	"github.com/lk2023060901/pixelbridge/internal/network/serializer"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
)

// Table 为按角色索引的编解码表。
//
// 编码方式完全由会话连接时声明的角色决定，不根据内容嗅探：
//   - 编辑器：MessagePack 二进制帧；
//   - 管线服务：JSON 文本帧；
//   - 未知角色：出站按文本帧处理，入站消息不应被解码。
type Table struct {
	editor   Codec
	pipeline Codec
}

// NewTable 创建默认的角色编解码表。
func NewTable() *Table {
	editor, _ := New(Options{Name: "msgpack", Serializer: serializer.MsgpackSerializer{}, FrameType: session.FrameBinary})
	pipeline, _ := New(Options{Name: "json", Serializer: serializer.JSONSerializer{}, FrameType: session.FrameText})
	return &Table{editor: editor, pipeline: pipeline}
}

// ForRole 返回指定角色使用的 Codec。
func (t *Table) ForRole(role session.Role) Codec {
	switch role {
	case session.RoleEditor:
		return t.editor
	case session.RolePipeline:
		return t.pipeline
	default:
		return t.pipeline
	}
}
