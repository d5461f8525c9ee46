package wpbot

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/chhongzh/shlex"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	GatewayTwilio   = "twilio"
	GatewayTelegram = "telegram"

	defaultSystemPrompt = "You are a helpful assistant responding via WhatsApp."
)

// Config 是进程级别的只读配置, LoadConfig 之后任何组件都不应该修改它
type Config struct {
	Model             string        `yaml:"openai_model"`
	MaxHistoryLength  int           `yaml:"max_history_length"`
	DefaultResponse   string        `yaml:"default_response"`
	AllowedCommands   []string      `yaml:"allowed_commands"`
	AdminUsers        []string      `yaml:"admin_users"`
	CommandPrefix     string        `yaml:"command_prefix"`
	SystemPrompt      string        `yaml:"system_prompt"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int64         `yaml:"max_tokens"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`

	Gateway     string `yaml:"gateway"`
	Listen      string `yaml:"listen"`
	WebhookPath string `yaml:"webhook_path"`
	Database    string `yaml:"database"`

	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	TwilioAccountSID string `yaml:"twilio_account_sid"`
	TwilioAuthToken  string `yaml:"twilio_auth_token"`
	TelegramToken    string `yaml:"telegram_bot_token"`
}

// DefaultConfig 返回未读取任何配置源时的默认值
func DefaultConfig() Config {
	return Config{
		Model:             "gpt-3.5-turbo",
		MaxHistoryLength:  20,
		DefaultResponse:   "I'm here to help!",
		AllowedCommands:   []string{"!clear", "!help", "!info"},
		CommandPrefix:     "!",
		SystemPrompt:      defaultSystemPrompt,
		Temperature:       0.7,
		MaxTokens:         1000,
		CompletionTimeout: 60 * time.Second,
		Gateway:           GatewayTwilio,
		Listen:            ":5000",
		WebhookPath:       "/bot",
	}
}

// envPattern 匹配 ${VAR} 和 ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// secretEnv 把环境变量映射到配置字段, 环境变量优先于配置文件
var secretEnv = []struct {
	name  string
	field func(*Config) *string
}{
	{"OPENAI_API_KEY", func(c *Config) *string { return &c.OpenAIAPIKey }},
	{"TWILIO_ACCOUNT_SID", func(c *Config) *string { return &c.TwilioAccountSID }},
	{"TWILIO_AUTH_TOKEN", func(c *Config) *string { return &c.TwilioAuthToken }},
	{"TELEGRAM_BOT_TOKEN", func(c *Config) *string { return &c.TelegramToken }},
}

// LoadConfig 读取 .env 文件和配置文件, 合并环境变量并校验
// path 为空时只使用默认值和环境变量
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	loadEnvFiles(envFiles)

	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("reading %s: %w", path, err)}
		}

		expanded, err := expandEnv(raw)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("expanding variables in %s: %w", path, err)}
		}

		if err := yaml.Unmarshal(expanded, &cfg); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parsing %s: %w", path, err)}
		}
	}

	for _, s := range secretEnv {
		if v, ok := os.LookupEnv(s.name); ok && v != "" {
			*s.field(&cfg) = v
		}
	}

	if v, ok := os.LookupEnv("WPBOT_ALLOWED_COMMANDS"); ok {
		commands, err := shlex.Split(v)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("WPBOT_ALLOWED_COMMANDS: %w", err)}
		}
		cfg.AllowedCommands = commands
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadEnvFiles 加载 .env 文件, 不存在的文件会被忽略, 已有的环境变量不会被覆盖
func loadEnvFiles(files []string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// expandEnv 替换 ${VAR} 和 ${VAR:-default}; 和 shell 一样, 变量为空时也使用默认值
// 没有默认值又未设置的变量一起报告
func expandEnv(raw []byte) ([]byte, error) {
	var missing []string

	out := envPattern.ReplaceAllStringFunc(string(raw), func(ref string) string {
		m := envPattern.FindStringSubmatch(ref)
		name, fallback := m[1], m[2]
		hasFallback := strings.Contains(ref, ":-")

		value, set := os.LookupEnv(name)
		switch {
		case set && (value != "" || !hasFallback):
			return value
		case hasFallback:
			return fallback
		}

		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return ref
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return []byte(out), nil
}

// Validate 检查配置, 所有问题合并成一个 ConfigError 返回
func (c *Config) Validate() error {
	var errs []error

	if c.Model == "" {
		errs = append(errs, errors.New("openai_model is required"))
	}
	if c.MaxHistoryLength < 1 {
		errs = append(errs, fmt.Errorf("max_history_length must be a positive integer, got %d", c.MaxHistoryLength))
	}
	if strings.TrimSpace(c.DefaultResponse) == "" {
		errs = append(errs, errors.New("default_response must not be empty"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens))
	}
	if c.CompletionTimeout < 0 {
		errs = append(errs, fmt.Errorf("completion_timeout must not be negative, got %s", c.CompletionTimeout))
	}

	if !strings.HasPrefix(c.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("webhook_path must start with \"/\", got %q", c.WebhookPath))
	}

	errs = append(errs, c.validateCommands()...)

	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}

	switch c.Gateway {
	case GatewayTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for the twilio gateway"))
		}
	case GatewayTelegram:
		if c.TelegramToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required for the telegram gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown gateway %q (supported: %q, %q)", c.Gateway, GatewayTwilio, GatewayTelegram))
	}

	if err := errors.Join(errs...); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

func (c *Config) validateCommands() []error {
	var errs []error

	if c.CommandPrefix == "" {
		errs = append(errs, errors.New("command_prefix must not be empty"))
		return errs
	}

	seen := make(map[string]bool, len(c.AllowedCommands))
	for i, cmd := range c.AllowedCommands {
		switch {
		case !strings.HasPrefix(cmd, c.CommandPrefix):
			errs = append(errs, fmt.Errorf("allowed_commands[%d]: %q does not start with %q", i, cmd, c.CommandPrefix))
		case cmd == c.CommandPrefix:
			errs = append(errs, fmt.Errorf("allowed_commands[%d]: command name is empty", i))
		case strings.ContainsAny(cmd, " \t\n"):
			errs = append(errs, fmt.Errorf("allowed_commands[%d]: %q contains whitespace", i, cmd))
		case seen[cmd]:
			errs = append(errs, fmt.Errorf("allowed_commands[%d]: duplicate command %q", i, cmd))
		}
		seen[cmd] = true
	}

	return errs
}

// IsAdmin 判断用户是否是管理员
func (c *Config) IsAdmin(userID string) bool {
	return slices.Contains(c.AdminUsers, userID)
}

// IsAllowedCommand 判断 token 是否完整匹配某个允许的命令(区分大小写)
func (c *Config) IsAllowedCommand(token string) bool {
	return slices.Contains(c.AllowedCommands, token)
}
