package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/policebox"
	"github.com/junbin-yang/go-policebox/pkg/timer"
)

// FileConfig 文件接收方配置
type FileConfig struct {
	Dir          string        `yaml:"dir" json:"dir" ini:"dir" env:"POLICEBOX_TRACE_DIR"`
	Prefix       string        `yaml:"prefix" json:"prefix" ini:"prefix"`
	Rotate       string        `yaml:"rotate" json:"rotate" ini:"rotate"` // 空、size 或 time
	MaxSizeMB    int           `yaml:"max_size_mb" json:"max_size_mb" ini:"max_size_mb"`
	MaxBackups   int           `yaml:"max_backups" json:"max_backups" ini:"max_backups"`
	RotationTime time.Duration `yaml:"rotation_time" json:"rotation_time" ini:"rotation_time"`
}

var intervalHeader = []string{
	"at_ms", "tick", "delivered", "delivered_bps", "link_drops", "box_drops", "queue_drops", "llr",
	"short_rwnd", "short_cwnd", "long_rwnd", "long_cwnd", "target", "state", "dmax",
	"safety_window", "token_capacity",
}

var statsHeader = []string{"at_ms", "flow", "data_bps", "tx_bps"}

type csvFile struct {
	name string
	out  io.WriteCloser
	w    *csv.Writer
}

func (f *csvFile) write(row []string) error {
	if err := f.w.Write(row); err != nil {
		return err
	}
	f.w.Flush()
	return f.w.Error()
}

// FileSink 每条流一个 CSV 文件，另有一个统计文件
type FileSink struct {
	log       logger.Logger
	flows     []*csvFile
	stats     *csvFile
	closeOnce sync.Once
	closed    bool
	failures  int

	lastFile string
	lastErr  error
	warn     func()
}

// NewFileSink 为每条流创建文件，任一文件创建失败时关闭已打开的文件
func NewFileSink(cfg FileConfig, flows []policebox.FlowSpec, log logger.Logger) (*FileSink, error) {
	if log == nil {
		log = logger.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建遥测目录失败: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "policebox"
	}

	s := &FileSink{log: log}
	// 磁盘满时每个周期都会失败，每秒最多报告一次
	s.warn = timer.Throttle(time.Second, func() {
		s.log.Warn("写入遥测文件失败",
			logger.String("file", s.lastFile),
			logger.Int("failures", s.failures),
			logger.GetError(s.lastErr))
	})
	for i, spec := range flows {
		name := spec.Name
		if name == "" {
			name = "flow" + strconv.Itoa(i)
		}
		f, err := openCSV(cfg, filepath.Join(cfg.Dir, prefix+"-"+name+".csv"), intervalHeader)
		if err != nil {
			return nil, multierr.Append(err, s.Close())
		}
		s.flows = append(s.flows, f)
	}
	f, err := openCSV(cfg, filepath.Join(cfg.Dir, prefix+"-stats.csv"), statsHeader)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	s.stats = f
	return s, nil
}

func openCSV(cfg FileConfig, path string, header []string) (*csvFile, error) {
	var out io.WriteCloser
	switch cfg.Rotate {
	case "":
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("创建遥测文件失败: %w", err)
		}
		out = f
	default:
		w, err := logger.OpenOutput(logger.OutputConfig{
			File:         path,
			Rotate:       cfg.Rotate,
			MaxSizeMB:    cfg.MaxSizeMB,
			MaxBackups:   cfg.MaxBackups,
			RotationTime: cfg.RotationTime,
		})
		if err != nil {
			return nil, err
		}
		out = w
	}
	f := &csvFile{name: path, out: out, w: csv.NewWriter(out)}
	if err := f.write(header); err != nil {
		return nil, multierr.Append(fmt.Errorf("写入表头失败: %w", err), out.Close())
	}
	return f, nil
}

func (s *FileSink) report(f *csvFile, err error) {
	if err == nil {
		return
	}
	s.failures++
	s.lastFile, s.lastErr = f.name, err
	s.warn()
}

func ms(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 3, 64)
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }

func (s *FileSink) OnInterval(rec *policebox.IntervalRecord) {
	if s.closed {
		return
	}
	for i, f := range rec.Flows {
		if i >= len(s.flows) {
			break
		}
		row := []string{
			ms(rec.At),
			strconv.Itoa(rec.Tick),
			strconv.FormatUint(f.Interval.Delivered, 10),
			ff(rec.DeliveredRate(f.ID)),
			strconv.FormatUint(f.Interval.LinkDrops, 10),
			strconv.FormatUint(f.Interval.BoxDrops, 10),
			strconv.FormatUint(f.Interval.QueueDrops, 10),
			ff(f.LossRatio),
			ff(f.ShortRwnd),
			ff(f.ShortCwnd),
			ff(f.LongRwnd),
			ff(f.LongCwnd),
			ff(f.TargetRate),
			string(f.State),
			strconv.Itoa(f.DMax),
			ff(f.SafetyWindow),
			strconv.Itoa(f.TokenCapacity),
		}
		s.report(s.flows[i], s.flows[i].write(row))
	}
}

func (s *FileSink) OnStats(rec *policebox.StatsRecord) {
	if s.closed {
		return
	}
	for _, f := range rec.Flows {
		row := []string{ms(rec.At), f.Name, ff(f.DataRate), ff(f.TxRate)}
		s.report(s.stats, s.stats.write(row))
	}
}

// Failures 返回写入失败的次数
func (s *FileSink) Failures() int { return s.failures }

// Close 关闭所有文件，重复调用返回 nil
func (s *FileSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		files := s.flows
		if s.stats != nil {
			files = append(files, s.stats)
		}
		for _, f := range files {
			f.w.Flush()
			err = multierr.Append(err, f.w.Error())
			err = multierr.Append(err, f.out.Close())
		}
	})
	return err
}
