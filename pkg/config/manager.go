// Package config 通用配置加载
//
// ConfigManager 按文件后缀选择 YAML/JSON/INI 反序列化器，加载后应用 env 标签覆盖，
// 如果配置实现了 Validator 则做合法性检查，并可选地监听文件变化自动重载。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/junbin-yang/go-policebox/pkg/logger"
	"github.com/junbin-yang/go-policebox/pkg/timer"
)

const (
	defaultDebounce = 500 * time.Millisecond
	reloadAttempts  = 3
	reloadDelay     = 100 * time.Millisecond
)

// Validator 配置可实现该接口，在加载和重载后检查合法性
type Validator interface {
	Validate() error
}

// ChangeFunc 配置变更回调
type ChangeFunc func(old, new interface{})

// ConfigManager 通用配置管理器
type ConfigManager struct {
	instance         interface{}
	factory          func() interface{} // 重载时创建带默认值的新实例
	configPath       string
	appName          string
	serializer       Serializer
	forceFormat      Serializer
	supportedFormats []Serializer
	defaultPaths     []string
	once             sync.Once
	mu               sync.RWMutex
	loadErr          error
	log              logger.Logger

	enableWatch bool
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	watchQuit   chan struct{}
	closeOnce   sync.Once

	callbacks []ChangeFunc
}

// NewConfigManager 创建配置管理器，cfg 必须是指针
func NewConfigManager(cfg interface{}, options ...Option) *ConfigManager {
	if cfg == nil {
		panic("config instance cannot be nil")
	}
	if reflect.ValueOf(cfg).Kind() != reflect.Ptr {
		panic("config instance must be a pointer")
	}

	cm := &ConfigManager{
		instance:         cfg,
		appName:          "app",
		serializer:       &YAMLSerializer{},
		supportedFormats: []Serializer{&YAMLSerializer{}, &JSONSerializer{}, &INISerializer{}},
		defaultPaths: []string{
			"./{{.AppName}}",
			"{{.ExecDir}}/{{.AppName}}",
			"/etc/{{.AppName}}",
		},
		debounce:  defaultDebounce,
		watchQuit: make(chan struct{}),
		log:       logger.Default(),
	}
	for _, opt := range options {
		opt(cm)
	}
	return cm
}

// LoadConfig 加载配置文件，只在第一次调用时生效
//
// customPath 为空时按默认路径查找。
func (cm *ConfigManager) LoadConfig(customPath string) error {
	cm.once.Do(func() {
		cm.mu.Lock()
		defer cm.mu.Unlock()
		cm.loadErr = cm.load(customPath)
	})
	if cm.loadErr == nil && cm.enableWatch {
		return cm.startWatch()
	}
	return cm.loadErr
}

func (cm *ConfigManager) load(customPath string) error {
	var err error
	if customPath != "" {
		if err = validateConfigPath(customPath); err != nil {
			return fmt.Errorf("invalid custom config path: %w", err)
		}
		cm.configPath = customPath
		cm.chooseSerializer(customPath)
	} else if cm.configPath, err = cm.findDefaultConfigPath(); err != nil {
		return fmt.Errorf("default config not found: %w", err)
	}

	if err = cm.decodeInto(cm.configPath, cm.instance); err != nil {
		return err
	}
	return nil
}

// decodeInto 解析文件、应用环境变量并检查合法性
func (cm *ConfigManager) decodeInto(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := cm.serializer.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal failed (%s): %w", cm.serializer.GetName(), err)
	}
	if err := ApplyEnvOverrides(v); err != nil {
		return fmt.Errorf("apply env overrides failed: %w", err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("validate config failed: %w", err)
		}
	}
	return nil
}

// GetConfig 获取配置实例
func (cm *ConfigManager) GetConfig() (interface{}, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.loadErr != nil {
		return nil, cm.loadErr
	}
	if cm.configPath == "" {
		return nil, errors.New("config not initialized, call LoadConfig first")
	}
	return cm.instance, nil
}

// Path 返回实际加载的配置文件路径
func (cm *ConfigManager) Path() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// SaveConfig 把当前配置写回文件，先写临时文件再替换
func (cm *ConfigManager) SaveConfig() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.configPath == "" {
		return errors.New("config not initialized")
	}

	data, err := cm.serializer.Marshal(cm.instance)
	if err != nil {
		return fmt.Errorf("marshal config failed: %w", err)
	}
	tmpPath := cm.configPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp config failed: %w", err)
	}
	if err := os.Rename(tmpPath, cm.configPath); err != nil {
		return fmt.Errorf("rename temp config failed: %w", err)
	}
	return nil
}

// ReloadConfig 重新加载配置，失败时保留旧配置
func (cm *ConfigManager) ReloadConfig() error {
	cm.mu.RLock()
	path := cm.configPath
	cm.mu.RUnlock()
	if path == "" {
		return errors.New("config path not initialized")
	}
	if err := validateConfigPath(path); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	next := cm.newInstance()
	if err := cm.decodeInto(path, next); err != nil {
		return err
	}

	cm.mu.Lock()
	old := cm.instance
	cm.instance = next
	cm.loadErr = nil
	callbacks := append([]ChangeFunc(nil), cm.callbacks...)
	cm.mu.Unlock()

	// 回调在锁外执行
	for _, fn := range callbacks {
		fn(old, next)
	}
	return nil
}

// OnChange 注册配置变更回调
func (cm *ConfigManager) OnChange(fn ChangeFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// EnableWatch 动态启用/禁用配置监听
func (cm *ConfigManager) EnableWatch(enable bool) error {
	cm.mu.Lock()
	cm.enableWatch = enable
	loaded := cm.configPath != ""
	cm.mu.Unlock()

	if enable && loaded {
		return cm.startWatch()
	}
	if !enable {
		cm.stopWatch()
	}
	return nil
}

// Watching 返回是否正在监听
func (cm *ConfigManager) Watching() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.watcher != nil
}

// Close 停止监听，可重复调用
func (cm *ConfigManager) Close() {
	cm.stopWatch()
	cm.closeOnce.Do(func() { close(cm.watchQuit) })
}

/* ------------------------------ 内部方法 ------------------------------ */

func (cm *ConfigManager) chooseSerializer(path string) {
	if cm.forceFormat != nil {
		cm.serializer = cm.forceFormat
		return
	}
	if s := serializerFor(filepath.Ext(path), cm.supportedFormats); s != nil {
		cm.serializer = s
	}
}

func (cm *ConfigManager) findDefaultConfigPath() (string, error) {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)

	for _, tpl := range cm.defaultPaths {
		base := replacePathVars(tpl, map[string]string{
			"AppName": cm.appName,
			"ExecDir": execDir,
		})

		if err := validateConfigPath(base); err == nil {
			cm.chooseSerializer(base)
			return base, nil
		}
		for _, format := range cm.supportedFormats {
			for _, ext := range extsOf(format) {
				full := base + ext
				if err := validateConfigPath(full); err == nil {
					cm.chooseSerializer(full)
					return full, nil
				}
			}
		}
	}
	return "", errors.New("no valid config file found (tried default paths and formats)")
}

func (cm *ConfigManager) newInstance() interface{} {
	if cm.factory != nil {
		return cm.factory()
	}
	return reflect.New(reflect.ValueOf(cm.instance).Elem().Type()).Interface()
}

func (cm *ConfigManager) startWatch() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher failed: %w", err)
	}
	// 监听所在目录，编辑器保存时常以重命名方式替换文件
	if err := w.Add(filepath.Dir(cm.configPath)); err != nil {
		w.Close()
		return fmt.Errorf("add watch path failed: %w", err)
	}
	cm.watcher = w
	go cm.watchLoop(w, cm.configPath)
	return nil
}

func (cm *ConfigManager) stopWatch() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.watcher != nil {
		cm.watcher.Close()
		cm.watcher = nil
	}
}

func (cm *ConfigManager) watchLoop(w *fsnotify.Watcher, path string) {
	target := filepath.Clean(path)
	reload := timer.Debounce(cm.debounce, func() {
		// 编辑器替换文件的瞬间文件可能不存在或不完整
		if err := timer.Retry(reloadAttempts, reloadDelay, cm.ReloadConfig); err != nil {
			cm.log.Warn("配置自动重载失败", logger.String("path", target), logger.GetError(err))
			return
		}
		cm.log.Info("配置已重新加载", logger.String("path", target))
	})

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			cm.log.Warn("配置监听出错", logger.GetError(err))
		case <-cm.watchQuit:
			return
		}
	}
}
