package application

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	zlog "github.com/lk2023060901/pixelbridge/pkg/log"
	zviper "github.com/lk2023060901/pixelbridge/pkg/util/viper"
)

// 环境变量。
const (
	EnvConfigFilePath = "PIXELBRIDGE_CONFIG_FILE_PATH"

	envLogLevel   = "PIXELBRIDGE_LOG_LEVEL"
	envLogFormat  = "PIXELBRIDGE_LOG_FORMAT"
	envLogStdout  = "PIXELBRIDGE_LOG_STDOUT"
	envLogFileDir = "PIXELBRIDGE_LOG_FILE_DIR"
	envLogFile    = "PIXELBRIDGE_LOG_FILE"
)

const defaultConfigPath = "./config.yaml"

// ServerConfig 为 HTTP/WebSocket 服务配置。
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Path            string        `mapstructure:"path"`
	RenderBatchPath string        `mapstructure:"renderBatchPath"`
	MetricsPath     string        `mapstructure:"metricsPath"`
	MaxMessageSize  int64         `mapstructure:"maxMessageSize"`
	SendQueueSize   int           `mapstructure:"sendQueueSize"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// StorageConfig 为图像输出与渲染结果目录配置。
type StorageConfig struct {
	ImagesDir    string `mapstructure:"imagesDir"`
	TempDir      string `mapstructure:"tempDir"`
	MaskFilename string `mapstructure:"maskFilename"`
}

// UpdateConfig 为版本检查、强制拉取与插件安装配置。
//
// VersionURL 为空时不做版本检查；InstallerCommand 为空时忽略安装指令。
type UpdateConfig struct {
	VersionURL       string   `mapstructure:"versionURL"`
	RepoDir          string   `mapstructure:"repoDir"`
	Remote           string   `mapstructure:"remote"`
	Branch           string   `mapstructure:"branch"`
	InstallerCommand []string `mapstructure:"installerCommand"`
	FetchAttempts    uint     `mapstructure:"fetchAttempts"`
}

// PoolConfig 为投递协程池配置。
type PoolConfig struct {
	Size int `mapstructure:"size"`
}

// Config 为服务的完整配置。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Update  UpdateConfig  `mapstructure:"update"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Logging zlog.Config   `mapstructure:"logging"`
}

// DefaultConfig 返回内置默认配置。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8188",
			Path:            "/ps/ws",
			RenderBatchPath: "/ps/renderbatch",
			MetricsPath:     "/metrics",
			MaxMessageSize:  500 << 20,
			SendQueueSize:   64,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Storage: StorageConfig{
			ImagesDir:    "./data/ps_inputs/imgs",
			TempDir:      "./data/temp",
			MaskFilename: "SELECTION.png",
		},
		Update: UpdateConfig{
			VersionURL:       "https://raw.githubusercontent.com/NimaNzrii/comfyui-photoshop/refs/heads/main/data/PreviewFiles/version.json",
			RepoDir:          ".",
			Remote:           "origin",
			Branch:           "main",
			InstallerCommand: []string{"python", "Install_Plugin/installer.py"},
			FetchAttempts:    3,
		},
		Pool: PoolConfig{Size: 64},
		Logging: zlog.Config{
			Level:  "info",
			Format: "text",
			Stdout: true,
		},
	}
}

// Validate 检查配置的必填项。
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("server.addr is empty")
	case !strings.HasPrefix(c.Server.Path, "/"):
		return errors.Newf("server.path %q must start with /", c.Server.Path)
	case !strings.HasPrefix(c.Server.RenderBatchPath, "/"):
		return errors.Newf("server.renderBatchPath %q must start with /", c.Server.RenderBatchPath)
	case c.Storage.ImagesDir == "":
		return errors.New("storage.imagesDir is empty")
	case c.Pool.Size <= 0:
		return errors.Newf("pool.size must be positive, got %d", c.Pool.Size)
	}
	return nil
}

// resolveConfigPath 按优先级确定配置文件路径：
//  1. 默认：./config.yaml（不存在时使用内置默认配置）
//  2. 环境变量：PIXELBRIDGE_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
//
// 返回的 explicit 表示路径由调用方显式指定，此时文件必须存在。
func resolveConfigPath(args []string) (path string, explicit bool, err error) {
	path = defaultConfigPath
	if envPath := strings.TrimSpace(os.Getenv(EnvConfigFilePath)); envPath != "" {
		path, explicit = envPath, true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", false, errors.New("missing value after --config")
			}
			path, explicit = args[i+1], true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			path, explicit = val, true
		}
	}
	return path, explicit, nil
}

// LoadConfig 解析命令行参数并加载配置文件，未出现的字段保留默认值。
func LoadConfig(args []string) (*Config, error) {
	path, explicit, err := resolveConfigPath(args)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	applyLogEnv(&cfg.Logging)
	if !explicit {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return cfg, nil
		}
	}

	raw := zviper.New()
	if err := raw.LoadFile(path); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", path)
	}
	if err := raw.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config file %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %q", path)
	}
	return cfg, nil
}

// applyLogEnv 用 PIXELBRIDGE_LOG_* 环境变量覆盖日志配置。
//
// 加载顺序为：内置默认值、环境变量、配置文件的 logging 段，后者覆盖前者。
func applyLogEnv(cfg *zlog.Config) {
	cfg.Level = getenvDefault(envLogLevel, cfg.Level)
	cfg.Format = getenvDefault(envLogFormat, cfg.Format)
	cfg.Stdout = getenvBool(envLogStdout, cfg.Stdout)
	cfg.File.RootPath = getenvDefault(envLogFileDir, cfg.File.RootPath)
	cfg.File.Filename = getenvDefault(envLogFile, cfg.File.Filename)
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
