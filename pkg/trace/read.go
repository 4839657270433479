package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// ErrUnsupportedFormat 无法按扩展名识别轨迹格式
var ErrUnsupportedFormat = fmt.Errorf("不支持的轨迹格式")

const maxLine = 1 << 20

// ReadJSONL 每行一个 JSON 事件，忽略空行和以 # 开头的行
func ReadJSONL(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var events []Event
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("第 %d 行解析失败: %w", line, err)
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("读取轨迹失败: %w", err)
	}
	sortEvents(events)
	return events, nil
}

type yamlTrace struct {
	Events []Event `yaml:"events"`
}

// ReadYAML 读取 events 列表，时间可以写成 "1.5s" 这样的字符串
func ReadYAML(r io.Reader) ([]Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("读取轨迹失败: %w", err)
	}
	var t yamlTrace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("解析 YAML 轨迹失败: %w", err)
	}
	for i := range t.Events {
		if err := t.Events[i].Validate(); err != nil {
			return nil, fmt.Errorf("第 %d 个事件: %w", i, err)
		}
	}
	sortEvents(t.Events)
	return t.Events, nil
}

// ReadFile 按扩展名选择格式，pcap 需要 resolver 把地址映射到流
func ReadFile(path string, resolver Resolver) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开轨迹文件失败: %w", err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl", ".json", ".ndjson":
		return ReadJSONL(f)
	case ".yaml", ".yml":
		return ReadYAML(f)
	case ".pcap":
		if resolver == nil {
			return nil, fmt.Errorf("%w: pcap 轨迹需要地址映射", ErrUnsupportedFormat)
		}
		return ReadPcap(f, resolver)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Writer 以 JSONL 格式写出事件
type Writer struct {
	enc *json.Encoder
	n   int
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (w *Writer) Write(ev Event) error {
	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("写入轨迹失败: %w", err)
	}
	w.n++
	return nil
}

// Count 返回已写出的事件数
func (w *Writer) Count() int { return w.n }
