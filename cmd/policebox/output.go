package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

func checkFormat(format string) error {
	switch format {
	case "yaml", "json":
		return nil
	default:
		return fmt.Errorf("不支持的输出格式: %s", format)
	}
}

// writeResult 按格式输出结果
func writeResult(w io.Writer, format string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("编码结果失败: %w", err)
	}
	_, err = w.Write(data)
	return err
}
