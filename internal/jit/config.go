// config.go - 后端配置
//
// 配置文件为 TOML 格式：
//
//	[backend]
//	max_method_size = 65536
//	arena_size = 4194304
//	trace = false
//
//	[abi]
//	varargs = "on-stack"        # 或 "cookie-in-next-slot"
//	vret_after_receiver = true
//
//	[debug]
//	seq_points = false
//	single_step = false

package jit

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/tangzhangming/novajit/internal/jit/abi"
)

// 默认值
const (
	DefaultMaxMethodSize = 64 << 10
	DefaultArenaSize     = 4 << 20
	DefaultTrampCache    = 1 << 12
)

// Config 后端配置
type Config struct {
	Backend BackendConfig `toml:"backend"`
	ABI     ABIConfig     `toml:"abi"`
	Debug   DebugConfig   `toml:"debug"`

	// Logger 结构化日志，nil 表示不输出
	Logger *zap.Logger `toml:"-"`
}

// BackendConfig 代码生成与代码区
type BackendConfig struct {
	// MaxMethodSize 单个方法机器码的上限（字节）
	MaxMethodSize int `toml:"max_method_size"`
	// ArenaSize 可执行代码区大小（字节）
	ArenaSize int `toml:"arena_size"`
	// TrampCache 蹦床缓存槽位数
	TrampCache int `toml:"tramp_cache"`
	// Trace 为所有方法生成进入/退出跟踪调用
	Trace bool `toml:"trace"`
}

// ABIConfig 调用约定边角情况
type ABIConfig struct {
	Varargs           string `toml:"varargs"`
	VretAfterReceiver bool   `toml:"vret_after_receiver"`
}

// DebugConfig 调试支持
type DebugConfig struct {
	SeqPoints  bool `toml:"seq_points"`
	SingleStep bool `toml:"single_step"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			MaxMethodSize: DefaultMaxMethodSize,
			ArenaSize:     DefaultArenaSize,
			TrampCache:    DefaultTrampCache,
		},
		ABI: ABIConfig{
			Varargs:           abi.VarargsOnStack.String(),
			VretAfterReceiver: true,
		},
		Logger: zap.NewNop(),
	}
}

// LoadConfig 从文件加载配置，未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析 TOML 配置
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Backend.MaxMethodSize <= 0 {
		return fmt.Errorf("backend.max_method_size must be positive, got %d", c.Backend.MaxMethodSize)
	}
	if c.Backend.ArenaSize < c.Backend.MaxMethodSize {
		return fmt.Errorf("backend.arena_size %d smaller than max_method_size %d",
			c.Backend.ArenaSize, c.Backend.MaxMethodSize)
	}
	if _, ok := abi.ParseVarargsPolicy(c.ABI.Varargs); !ok {
		return fmt.Errorf("abi.varargs: unknown policy %q", c.ABI.Varargs)
	}
	return nil
}

// Policy 转换为分类器策略
func (c *Config) Policy() abi.Policy {
	v, _ := abi.ParseVarargsPolicy(c.ABI.Varargs)
	return abi.Policy{Varargs: v, VretAfterReceiver: c.ABI.VretAfterReceiver}
}

// logger 返回可用的日志记录器
func (c *Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
