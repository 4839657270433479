package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// replacePathVars 替换路径模板中的 {{.Name}} 变量
func replacePathVars(tpl string, vars map[string]string) string {
	for k, v := range vars {
		tpl = strings.ReplaceAll(tpl, "{{."+k+"}}", v)
	}
	return tpl
}

// validateConfigPath 要求路径指向一个存在的普通文件
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("配置路径为空")
	}
	fi, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("配置文件不存在: %s", path)
	case err != nil:
		return fmt.Errorf("读取文件信息失败: %w", err)
	case fi.IsDir():
		return fmt.Errorf("配置路径是目录: %s", path)
	}
	return nil
}
