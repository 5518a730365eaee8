package session

import "strings"

// Role 表示会话在中继中的角色。
//
// 角色在连接建立时由 platform 查询参数确定，之后不再变化；
// 编码方式、路由目标与连接通知都按角色选择。
type Role int

const (
	// RoleUnknown 表示未声明或无法识别的角色，此类会话不参与路由。
	RoleUnknown Role = iota
	// RoleEditor 为图像编辑器一侧（platform=ps）。
	RoleEditor
	// RolePipeline 为生成管线服务一侧（platform=cm 或其它非空取值）。
	RolePipeline
)

const (
	platformEditor  = "ps"
	platformUnknown = "unknown"
)

// ParseRole 根据 platform 查询参数解析会话角色。
//
// 规则：
//   - "ps" 为编辑器；
//   - 空串或 "unknown" 为未知角色；
//   - 其余取值一律视为管线服务。
func ParseRole(platform string) Role {
	p := strings.ToLower(strings.TrimSpace(platform))
	switch p {
	case platformEditor:
		return RoleEditor
	case "", platformUnknown:
		return RoleUnknown
	default:
		return RolePipeline
	}
}

func (r Role) String() string {
	switch r {
	case RoleEditor:
		return "editor"
	case RolePipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// Peer 返回与当前角色对端的角色；未知角色没有对端。
func (r Role) Peer() Role {
	switch r {
	case RoleEditor:
		return RolePipeline
	case RolePipeline:
		return RoleEditor
	default:
		return RoleUnknown
	}
}

// platformPipeline 为管线服务连接时使用的 platform 取值。
const platformPipeline = "cm"

// Platform 返回该角色连接时应携带的 platform 查询参数。
func (r Role) Platform() string {
	switch r {
	case RoleEditor:
		return platformEditor
	case RolePipeline:
		return platformPipeline
	default:
		return platformUnknown
	}
}
