package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"gopkg.in/natefinch/lumberjack.v2"
)

// OutputConfig 日志输出配置
type OutputConfig struct {
	Level        string        `yaml:"level" json:"level" ini:"level" env:"POLICEBOX_LOG_LEVEL"`
	File         string        `yaml:"file" json:"file" ini:"file" env:"POLICEBOX_LOG_FILE"` // 为空时输出到标准错误
	Rotate       string        `yaml:"rotate" json:"rotate" ini:"rotate"`                   // size 或 time
	MaxSizeMB    int           `yaml:"max_size_mb" json:"max_size_mb" ini:"max_size_mb"`
	MaxBackups   int           `yaml:"max_backups" json:"max_backups" ini:"max_backups"`
	MaxAge       time.Duration `yaml:"max_age" json:"max_age" ini:"max_age"`
	RotationTime time.Duration `yaml:"rotation_time" json:"rotation_time" ini:"rotation_time"`
	Compress     bool          `yaml:"compress" json:"compress" ini:"compress"`
}

// NewSizeRotateWriter 按文件大小切割
func NewSizeRotateWriter(path string, maxSizeMB, maxBackups int, maxAge time.Duration, compress bool) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     int(maxAge / (24 * time.Hour)),
		Compress:   compress,
	}
}

// NewTimeRotateWriter 按时间切割，文件名为 path.YYYYmmddHHMM，并维护指向最新文件的软链接
func NewTimeRotateWriter(path string, rotation, maxAge time.Duration) (io.WriteCloser, error) {
	if rotation <= 0 {
		rotation = 24 * time.Hour
	}
	opts := []rotatelogs.Option{
		rotatelogs.WithLinkName(path),
		rotatelogs.WithRotationTime(rotation),
	}
	if maxAge > 0 {
		opts = append(opts, rotatelogs.WithMaxAge(maxAge))
	}
	w, err := rotatelogs.New(path+".%Y%m%d%H%M", opts...)
	if err != nil {
		return nil, fmt.Errorf("创建按时间切割的日志失败: %w", err)
	}
	return w, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// OpenOutput 按配置打开日志输出
func OpenOutput(cfg OutputConfig) (io.WriteCloser, error) {
	if cfg.File == "" {
		return nopCloser{os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	switch cfg.Rotate {
	case "time":
		return NewTimeRotateWriter(cfg.File, cfg.RotationTime, cfg.MaxAge)
	case "", "size":
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		return NewSizeRotateWriter(cfg.File, size, cfg.MaxBackups, cfg.MaxAge, cfg.Compress), nil
	default:
		return nil, fmt.Errorf("不支持的日志切割方式: %s", cfg.Rotate)
	}
}

// NewFromConfig 按配置创建日志，返回的 Closer 负责关闭底层文件
func NewFromConfig(cfg OutputConfig, opts ...Option) (*ZapLogger, io.Closer, error) {
	out, err := OpenOutput(cfg)
	if err != nil {
		return nil, nil, err
	}
	level, ok := ParseLevel(cfg.Level)
	if !ok && cfg.Level != "" {
		_ = out.Close()
		return nil, nil, fmt.Errorf("无法识别的日志级别: %s", cfg.Level)
	}
	return New(out, level, opts...), out, nil
}
