package log

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameSessionID = "sessionID"
	FieldNameRole      = "role"
	FieldNameOrigin    = "origin"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldSessionID 返回一个包含会话 ID 的 zap 字段。
func FieldSessionID(id string) zap.Field {
	return zap.String(FieldNameSessionID, id)
}

// FieldRole 返回一个包含会话角色的 zap 字段。
func FieldRole(role fmt.Stringer) zap.Field {
	return zap.Stringer(FieldNameRole, role)
}

// FieldOrigin 返回一个包含客户端来源地址的 zap 字段。
func FieldOrigin(origin string) zap.Field {
	return zap.String(FieldNameOrigin, origin)
}
