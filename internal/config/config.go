package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPath 是未设置 TRIAGE_CONFIG 时读取的配置文件。
const DefaultPath = "configs/triage.json"

// Config 描述了 triage 驱动与交易工具服务共享的配置。
type Config struct {
	EnvFile    string           `json:"env_file"`
	Log        LogConfig        `json:"log"`
	LLM        LLMConfig        `json:"llm"`
	ToolServer ToolServerConfig `json:"tool_server"`
	Ledger     LedgerConfig     `json:"ledger"`
	Bootstrap  BootstrapConfig  `json:"bootstrap"`
	Router     RouterConfig     `json:"router"`
	Tracing    TracingConfig    `json:"tracing"`
	Inbox      InboxConfig      `json:"inbox"`
	History    HistoryConfig    `json:"history"`
	API        APIConfig        `json:"api"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// LogConfig 控制日志级别与输出。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
}

// LLMConfig 描述智能体使用的大模型。
type LLMConfig struct {
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回单次查询的超时时间，0 表示不设超时。
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取 api_key_env 指定的环境变量。
func (c LLMConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// ToolServerConfig 描述 MCP SSE 工具服务的监听与连接参数。
type ToolServerConfig struct {
	Name                  string `json:"name"`
	Address               string `json:"address"`
	SSEPath               string `json:"sse_path"`
	MessagePath           string `json:"message_path"`
	URL                   string `json:"url"`
	MetricsAddress        string `json:"metrics_address"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
}

// ConnectTimeout 返回客户端连接工具服务的超时时间。
func (c ToolServerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// LedgerConfig 描述交易查询的数据源。
type LedgerConfig struct {
	Source           string `json:"source"`
	ProjectID        string `json:"project_id"`
	Table            string `json:"table"`
	WindowHours      int    `json:"window_hours"`
	Limit            int    `json:"limit"`
	RPCURL           string `json:"rpc_url"`
	BlockTimeSeconds int    `json:"block_time_seconds"`
	MaxBlockRange    uint64 `json:"max_block_range"`
}

// Window 返回查询的时间窗口。
func (c LedgerConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// BootstrapConfig 描述如何以子进程方式拉起工具服务。
type BootstrapConfig struct {
	Enabled           *bool    `json:"enabled"`
	Launcher          string   `json:"launcher"`
	Args              []string `json:"args"`
	WorkingDir        string   `json:"working_dir"`
	ReadyDelaySeconds int      `json:"ready_delay_seconds"`
	StopGraceSeconds  int      `json:"stop_grace_seconds"`
}

// IsEnabled 判断是否需要由驱动进程自行拉起工具服务。
func (c BootstrapConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ReadyDelay 返回启动后固定等待的时长。
func (c BootstrapConfig) ReadyDelay() time.Duration {
	return time.Duration(c.ReadyDelaySeconds) * time.Second
}

// StopGrace 返回 SIGTERM 之后等待子进程退出的时长。
func (c BootstrapConfig) StopGrace() time.Duration {
	return time.Duration(c.StopGraceSeconds) * time.Second
}

// RouterConfig 控制路由方式与角色定义。
type RouterConfig struct {
	Mode      string   `json:"mode"`
	RolesFile string   `json:"roles_file"`
	Queries   []string `json:"queries"`
}

// TracingConfig 控制 OpenTelemetry 的导出。
type TracingConfig struct {
	Workflow     string `json:"workflow"`
	ServiceName  string `json:"service_name"`
	OTLPEndpoint string `json:"otlp_endpoint"`
	Insecure     bool   `json:"insecure"`
	ViewURL      string `json:"view_url"`
}

// InboxConfig 描述查询队列。driver 为空时使用内置查询列表。
type InboxConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
	Drain            bool   `json:"drain"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// HistoryConfig 描述运行记录的持久化方式。
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// APIConfig 描述投递查询与读取运行记录的 HTTP 接口。address 为空时不启动。
type APIConfig struct {
	Address  string `json:"address"`
	Token    string `json:"token"`
	TokenEnv string `json:"token_env"`
}

// ResolveToken 优先使用显式配置，其次读取 token_env 指定的环境变量。
func (c APIConfig) ResolveToken() string {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token
	}
	if c.TokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.TokenEnv))
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Path 返回配置文件路径，TRIAGE_CONFIG 优先。
func Path() string {
	if p := strings.TrimSpace(os.Getenv("TRIAGE_CONFIG")); p != "" {
		return p
	}
	return DefaultPath
}

// Load 解析指定路径的 JSON 配置文件。默认路径不存在时使用内置默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// LoadEnv 加载 .env 文件中的凭据，文件不存在时忽略。
func (c *Config) LoadEnv() error {
	if strings.TrimSpace(c.EnvFile) == "" {
		return nil
	}
	if err := godotenv.Load(c.EnvFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("加载环境变量文件失败: %w", err)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.ToolServer.Name == "" {
		c.ToolServer.Name = "usdc-transactions"
	}
	if c.ToolServer.Address == "" {
		c.ToolServer.Address = "localhost:8000"
	}
	if c.ToolServer.SSEPath == "" {
		c.ToolServer.SSEPath = "/sse"
	}
	if c.ToolServer.MessagePath == "" {
		c.ToolServer.MessagePath = "/messages"
	}
	if c.ToolServer.URL == "" {
		c.ToolServer.URL = "http://" + c.ToolServer.Address + c.ToolServer.SSEPath
	}
	if c.ToolServer.ConnectTimeoutSeconds <= 0 {
		c.ToolServer.ConnectTimeoutSeconds = 10
	}

	if c.Ledger.Source == "" {
		c.Ledger.Source = "bigquery"
	}
	if c.Ledger.ProjectID == "" {
		c.Ledger.ProjectID = "api-project-zzm"
	}
	if c.Ledger.Table == "" {
		c.Ledger.Table = "bigquery-public-data.crypto_ethereum.token_transfers"
	}
	if c.Ledger.WindowHours <= 0 {
		c.Ledger.WindowHours = 48
	}
	if c.Ledger.Limit <= 0 || c.Ledger.Limit > 100 {
		c.Ledger.Limit = 100
	}
	if c.Ledger.BlockTimeSeconds <= 0 {
		c.Ledger.BlockTimeSeconds = 12
	}
	if c.Ledger.MaxBlockRange == 0 {
		c.Ledger.MaxBlockRange = 2000
	}

	if c.Bootstrap.Launcher == "" {
		c.Bootstrap.Launcher = "go"
		if len(c.Bootstrap.Args) == 0 {
			c.Bootstrap.Args = []string{"run", "./cmd/txserverd"}
		}
	}
	if c.Bootstrap.ReadyDelaySeconds <= 0 {
		c.Bootstrap.ReadyDelaySeconds = 3
	}
	if c.Bootstrap.StopGraceSeconds <= 0 {
		c.Bootstrap.StopGraceSeconds = 5
	}
	if c.Bootstrap.WorkingDir != "" && !filepath.IsAbs(c.Bootstrap.WorkingDir) {
		c.Bootstrap.WorkingDir = filepath.Join(baseDir, c.Bootstrap.WorkingDir)
	}

	if c.Router.Mode == "" {
		c.Router.Mode = "llm"
	}
	if c.Router.RolesFile != "" && !filepath.IsAbs(c.Router.RolesFile) {
		c.Router.RolesFile = filepath.Join(baseDir, c.Router.RolesFile)
	}

	if c.Tracing.Workflow == "" {
		c.Tracing.Workflow = "SSE Example"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "openmcp-triage"
	}

	if c.Inbox.Redis.Queue == "" {
		c.Inbox.Redis.Queue = "triage:queries"
	}
	if c.Inbox.Redis.BlockWaitSeconds <= 0 {
		c.Inbox.Redis.BlockWaitSeconds = 5
	}
	if c.Inbox.RabbitMQ.Queue == "" {
		c.Inbox.RabbitMQ.Queue = "triage.queries"
	}

	if c.History.Driver == "" {
		c.History.Driver = "none"
	}

	if c.API.TokenEnv == "" {
		c.API.TokenEnv = "TRIAGE_API_TOKEN"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
