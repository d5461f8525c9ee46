package wpbot

import "fmt"

// ConfigError 表示配置缺失或非法, 进程不能在这种状态下提供服务
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError 表示允许列表里有命令, 但没有对应的实现
type CommandError struct {
	Token string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q is allowed but has no handler", e.Token)
}

// CompletionError 包装模型调用的失败(超时, 限流, 空回复等)
type CompletionError struct {
	Model string
	Err   error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion with %s failed: %v", e.Model, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}
