// Package updater 实现中继调用的外部协作方：插件版本检查、强制拉取更新与插件安装。
package updater

import (
	"context"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
)

// VersionChecker 查询最新的插件版本。
type VersionChecker interface {
	// LatestVersion 返回远端发布的最新版本号，并与 current 做语义化比较（结果只记录日志）。
	LatestVersion(ctx context.Context, current string) (string, error)
}

// Puller 将本地代码强制更新到远端最新版本。
type Puller interface {
	ForcePull(ctx context.Context) error
}

// Installer 执行插件安装。
type Installer interface {
	Install(ctx context.Context) error
}

// Runner 执行一条外部命令并返回合并后的输出。
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// ExecRunner 是基于 os/exec 的 Runner 实现。
type ExecRunner struct{}

var _ Runner = ExecRunner{}

// Run 实现 Runner.Run。
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, errors.Wrapf(err, "run %s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return out, nil
}
