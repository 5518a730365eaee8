package updater

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/internal/json"
	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
	"github.com/lk2023060901/pixelbridge/pkg/util/retry"
)

// maxDescriptorSize 为版本描述文件的最大字节数。
const maxDescriptorSize = 1 << 20

// versionDescriptor 为远端版本描述文件的结构。
type versionDescriptor struct {
	Version string `json:"version"`
}

// HTTPVersionChecker 从只读 HTTP 地址获取版本描述文件。
type HTTPVersionChecker struct {
	URL      string
	Client   *http.Client
	Attempts uint
	Sleep    time.Duration
	MaxSleep time.Duration
}

var _ VersionChecker = (*HTTPVersionChecker)(nil)

// NewHTTPVersionChecker 创建版本检查器；attempts 为 0 时只尝试一次。
func NewHTTPVersionChecker(url string, attempts uint) *HTTPVersionChecker {
	if attempts == 0 {
		attempts = 1
	}
	return &HTTPVersionChecker{
		URL:      url,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Attempts: attempts,
		Sleep:    500 * time.Millisecond,
		MaxSleep: 5 * time.Second,
	}
}

// LatestVersion 实现 VersionChecker.LatestVersion。
//
// 是否重试由 merr 错误的可重试标记决定：网络错误与 5xx 会重试，
// 其它非 200 状态与解析失败不重试。
func (c *HTTPVersionChecker) LatestVersion(ctx context.Context, current string) (string, error) {
	if c.URL == "" {
		return "", merr.WrapErrParameterMissing("versionURL")
	}

	var desc versionDescriptor
	err := retry.Do(ctx, func() error {
		var err error
		desc, err = c.fetch(ctx)
		return err
	}, retry.Attempts(c.Attempts), retry.Sleep(c.Sleep), retry.MaxSleepTime(c.MaxSleep), retry.RetryErr(merr.IsRetryableErr))
	if err != nil {
		log.Ctx(ctx).Warn("failed to check plugin update", zap.String("url", c.URL), zap.Error(err))
		return "", err
	}

	logger := log.Ctx(ctx).With(zap.String("current", current), zap.String("latest", desc.Version))
	if Outdated(current, desc.Version) {
		logger.Info("plugin version is outdated")
	} else {
		logger.Info("plugin version is up to date")
	}
	return desc.Version, nil
}

func (c *HTTPVersionChecker) fetch(ctx context.Context) (versionDescriptor, error) {
	var desc versionDescriptor
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return desc, retry.Unrecoverable(merr.WrapErrParameterInvalidMsg("version url %q: %v", c.URL, err))
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return desc, merr.WrapErrServiceUnavailable(err.Error(), "fetch version descriptor")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return desc, merr.WrapErrServiceUnavailable(resp.Status, "fetch version descriptor")
	case resp.StatusCode != http.StatusOK:
		return desc, merr.WrapErrIoFailedReason(resp.Status, "fetch version descriptor")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptorSize))
	if err != nil {
		return desc, merr.WrapErrServiceUnavailable(err.Error(), "read version descriptor")
	}
	if err := json.Unmarshal(body, &desc); err != nil {
		return desc, merr.WrapErrDecodeFailed("json", err)
	}
	if desc.Version == "" {
		return desc, merr.WrapErrDecodeFailed("json", errors.New("version field is empty"))
	}
	return desc, nil
}

// Outdated 判断 current 是否早于 latest。
//
// 两者都能按语义化版本解析时按语义比较，否则退化为字符串比较；current 为空时视为过期。
func Outdated(current, latest string) bool {
	if current == "" || current == "unknown" {
		return true
	}
	cur, err1 := semver.ParseTolerant(current)
	lat, err2 := semver.ParseTolerant(latest)
	if err1 == nil && err2 == nil {
		return cur.LT(lat)
	}
	return current < latest
}
