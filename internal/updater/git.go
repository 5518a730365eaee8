package updater

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// GitPuller 通过 git fetch + reset --hard 将仓库强制更新到远端分支。
type GitPuller struct {
	RepoDir string
	Remote  string
	Branch  string
	Runner  Runner
}

var _ Puller = (*GitPuller)(nil)

// NewGitPuller 创建 GitPuller，remote/branch 为空时分别使用 origin/main。
func NewGitPuller(repoDir, remote, branch string) *GitPuller {
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		branch = "main"
	}
	return &GitPuller{RepoDir: repoDir, Remote: remote, Branch: branch, Runner: ExecRunner{}}
}

// ForcePull 实现 Puller.ForcePull。
func (g *GitPuller) ForcePull(ctx context.Context) error {
	logger := log.Ctx(ctx).With(zap.String("repo", g.RepoDir), zap.String("remote", g.Remote), zap.String("branch", g.Branch))

	out, err := g.Runner.Run(ctx, g.RepoDir, "git", "fetch", g.Remote)
	if err != nil {
		logger.Error("git fetch failed", zap.Error(err))
		return merr.WrapErrIoFailed(g.RepoDir, err)
	}
	logger.Info("git fetch done", zap.String("output", strings.TrimSpace(string(out))))

	out, err = g.Runner.Run(ctx, g.RepoDir, "git", "reset", "--hard", g.Remote+"/"+g.Branch)
	if err != nil {
		logger.Error("git reset failed", zap.Error(err))
		return merr.WrapErrIoFailed(g.RepoDir, err)
	}
	logger.Info("git reset done", zap.String("output", strings.TrimSpace(string(out))))
	return nil
}
