package updater

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// CommandInstaller 通过执行配置的安装命令完成插件安装。
type CommandInstaller struct {
	Dir     string
	Command []string
	Runner  Runner
}

var _ Installer = (*CommandInstaller)(nil)

// NewCommandInstaller 创建 CommandInstaller。
func NewCommandInstaller(dir string, command []string) *CommandInstaller {
	return &CommandInstaller{Dir: dir, Command: command, Runner: ExecRunner{}}
}

// Install 实现 Installer.Install。
func (c *CommandInstaller) Install(ctx context.Context) error {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return merr.WrapErrParameterMissing("installerCommand")
	}
	logger := log.Ctx(ctx).With(zap.Strings("command", c.Command))

	out, err := c.Runner.Run(ctx, c.Dir, c.Command[0], c.Command[1:]...)
	if err != nil {
		logger.Error("plugin installer failed", zap.Error(err))
		return merr.WrapErrIoFailed(strings.Join(c.Command, " "), err)
	}
	logger.Info("plugin installer finished", zap.String("output", strings.TrimSpace(string(out))))
	return nil
}
