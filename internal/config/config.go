package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/photosort/internal/infra/fsx"
)

const (
	// ErrCodeNotFound 表示未通过 CLI 指定 source，且 cwd 下没有配置文件。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingRoot 表示 CLI 与配置文件都没有给出 source 或 dest。
	ErrCodeMissingRoot = "config_missing_root"

	// 以下是根目录校验失败：在派发任何照片之前终止 run。
	ErrCodeSourceMissing  = "source_missing"
	ErrCodeSourceInvalid  = "source_invalid"
	ErrCodeDestMissing    = "dest_missing"
	ErrCodeDestUnwritable = "dest_unwritable"
)

const (
	DefaultWorkers    = 4
	MaxWorkers        = 32
	DefaultCacheSize  = 1000
	DefaultLogLevel   = zerolog.WarnLevel
	DefaultGeocoder   = "https://nominatim.openstreetmap.org"
	DefaultLanguage   = "en"
	DefaultGeoTimeout = 10 * time.Second
	// DefaultPublicRPS 是默认（公共）geocoder 的请求速率上限；自建实例默认不限速。
	DefaultPublicRPS = 1.0
)

// configNames 是配置文件的候选名，按顺序取第一个存在的。
var configNames = []string{"photosort.json", "photosort.yaml", "photosort.yml"}

// CLIArgs 是 CLI 暴露的入口参数，并保留 "是否显式指定" 的信息。
// 这能保证覆盖优先级可实现：例如 --device=false 必须能覆盖 config.use_device=true。
type CLIArgs struct {
	Source string
	Dest   string

	Workers    int
	WorkersSet bool

	UseDevice    bool
	UseDeviceSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 对应 photosort.json / photosort.yaml 的解析结构。
type FileConfig struct {
	Source       string          `json:"source" yaml:"source"`
	Dest         string          `json:"dest" yaml:"dest"`
	Workers      int             `json:"workers" yaml:"workers"`
	UseDevice    *bool           `json:"use_device" yaml:"use_device"`
	CopyUnsorted *bool           `json:"copy_unsorted" yaml:"copy_unsorted"`
	CacheSize    int             `json:"cache_size" yaml:"cache_size"`
	ExcludeDirs  []string        `json:"exclude_dirs" yaml:"exclude_dirs"`
	LogLevel     string          `json:"log_level" yaml:"log_level"`
	Geocoder     *GeocoderConfig `json:"geocoder" yaml:"geocoder"`
}

type GeocoderConfig struct {
	URL        string `json:"url" yaml:"url"`
	TimeoutSec int    `json:"timeout_sec" yaml:"timeout_sec"`
	Language   string `json:"language" yaml:"language"`
	UserAgent  string `json:"user_agent" yaml:"user_agent"`
	Retries    int    `json:"retries" yaml:"retries"`
	ProxyURL   string `json:"proxy_url" yaml:"proxy_url"`
	// RPS 为 nil 时按 URL 取默认值；显式 0 表示不限速。
	RPS *float64 `json:"rps" yaml:"rps"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	Source string
	Dest   string

	Workers      int
	UseDevice    bool
	CopyUnsorted bool
	CacheSize    int
	ExcludeDirs  []string
	LogLevel     zerolog.Level

	Geocoder Geocoder

	// ConfigPath 是实际读取的配置文件；未读取时为空。
	ConfigPath string
}

type Geocoder struct {
	URL       string
	Timeout   time.Duration
	Language  string
	UserAgent string
	Retries   int
	ProxyURL  string
	// RPS 是每秒最多发起的反查请求数；0 表示不限速。
	RPS float64
}

// Error 是配置阶段的结构化错误（带 error_code）。它是唯一会终止整个 run 的错误。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingRoot:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%q：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：%q", e.Code, e.Path)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 提供 source：尝试读取 <source>/photosort.{json,yaml,yml}（可选）
// 2) CLI 未提供 source：必须读取 <cwd>/photosort.{json,yaml,yml}，且其中必须包含 source
//
// 覆盖优先级：CLI > 配置文件 > 内置默认值。
// 只做解析与规范化，不访问 source/dest 本身（见 ValidateRoots）。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Source) != "" {
		source := absCleanFrom(cwdAbs, cli.Source)
		fc, cfgPath, err := findFileConfig(source)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		// 配置文件里的相对 dest 以配置文件所在目录为基准。
		return merge(cwdAbs, source, cli, fc, cfgPath)
	}

	fc, cfgPath, err := findFileConfig(cwdAbs)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if cfgPath == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: filepath.Join(cwdAbs, configNames[0]), Err: os.ErrNotExist}
	}
	if strings.TrimSpace(fc.Source) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingRoot, Path: cfgPath, Err: fmt.Errorf("未指定 source（--source 或配置文件 %q）", cfgPath)}
	}
	return merge(cwdAbs, absCleanFrom(cwdAbs, fc.Source), cli, fc, cfgPath)
}

func merge(cwdAbs, source string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(err error) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	// dest：CLI（相对 cwd）> config（相对配置文件目录）
	dest := ""
	switch {
	case strings.TrimSpace(cli.Dest) != "":
		dest = absCleanFrom(cwdAbs, cli.Dest)
	case strings.TrimSpace(fc.Dest) != "":
		dest = absCleanFrom(filepath.Dir(cfgPath), fc.Dest)
	default:
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingRoot, Path: cfgPath, Err: errors.New("未指定 dest（--dest 或配置文件 dest 字段）")}
	}

	workers := fc.Workers
	if cli.WorkersSet {
		workers = cli.Workers
	}
	if workers == 0 {
		workers = DefaultWorkers
	}
	// 范围 [1, 32]；超出截断。
	if workers < 1 {
		workers = 1
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	useDevice := true
	if cli.UseDeviceSet {
		useDevice = cli.UseDevice
	} else if fc.UseDevice != nil {
		useDevice = *fc.UseDevice
	}

	copyUnsorted := true
	if fc.CopyUnsorted != nil {
		copyUnsorted = *fc.CopyUnsorted
	}

	cacheSize := fc.CacheSize
	if cacheSize < 0 {
		return invalid(fmt.Errorf("cache_size 不能为负数：%d", cacheSize))
	}
	if cacheSize == 0 {
		cacheSize = DefaultCacheSize
	}

	level := DefaultLogLevel
	levelS := strings.TrimSpace(fc.LogLevel)
	if cli.LogLevelSet {
		levelS = strings.TrimSpace(cli.LogLevel)
	}
	if levelS != "" {
		lv, err := zerolog.ParseLevel(strings.ToLower(levelS))
		if err != nil {
			return invalid(fmt.Errorf("log_level 无效：%q", levelS))
		}
		level = lv
	}

	geo, err := mergeGeocoder(fc.Geocoder)
	if err != nil {
		return invalid(err)
	}

	return EffectiveConfig{
		Source:       source,
		Dest:         dest,
		Workers:      workers,
		UseDevice:    useDevice,
		CopyUnsorted: copyUnsorted,
		CacheSize:    cacheSize,
		ExcludeDirs:  append([]string(nil), fc.ExcludeDirs...),
		LogLevel:     level,
		Geocoder:     geo,
		ConfigPath:   cfgPath,
	}, nil
}

func mergeGeocoder(gc *GeocoderConfig) (Geocoder, error) {
	g := Geocoder{
		URL:      DefaultGeocoder,
		Timeout:  DefaultGeoTimeout,
		Language: DefaultLanguage,
	}
	if gc == nil {
		g.RPS = DefaultPublicRPS
		return g, nil
	}

	if u := strings.TrimSpace(gc.URL); u != "" {
		pu, err := url.Parse(u)
		if err != nil || pu.Host == "" || (pu.Scheme != "http" && pu.Scheme != "https") {
			return Geocoder{}, fmt.Errorf("geocoder.url 必须是 http/https 地址：%q", u)
		}
		g.URL = strings.TrimRight(u, "/")
	}
	if gc.TimeoutSec < 0 {
		return Geocoder{}, fmt.Errorf("geocoder.timeout_sec 不能为负数：%d", gc.TimeoutSec)
	}
	if gc.TimeoutSec > 0 {
		g.Timeout = time.Duration(gc.TimeoutSec) * time.Second
	}
	if l := strings.TrimSpace(gc.Language); l != "" {
		g.Language = l
	}
	g.UserAgent = strings.TrimSpace(gc.UserAgent)

	if gc.Retries < 0 {
		return Geocoder{}, fmt.Errorf("geocoder.retries 不能为负数：%d", gc.Retries)
	}
	g.Retries = gc.Retries

	if p := strings.TrimSpace(gc.ProxyURL); p != "" {
		if _, err := url.Parse(p); err != nil {
			return Geocoder{}, fmt.Errorf("geocoder.proxy_url 无效：%w", err)
		}
		g.ProxyURL = p
	}

	switch {
	case gc.RPS != nil:
		if *gc.RPS < 0 || math.IsNaN(*gc.RPS) || math.IsInf(*gc.RPS, 0) {
			return Geocoder{}, fmt.Errorf("geocoder.rps 必须是非负数：%v", *gc.RPS)
		}
		g.RPS = *gc.RPS
	case g.URL == DefaultGeocoder:
		g.RPS = DefaultPublicRPS
	}
	return g, nil
}

// ValidateRoots 检查 source/dest 是否可用。任一失败都是致命错误。
//
// 规则：
// - source 必须存在且是目录
// - dest 必须已存在、是目录且可写（不自动创建，避免拼错路径时在意外位置写入）
// - source 与 dest 不能是同一目录
func ValidateRoots(eff EffectiveConfig) error {
	fi, err := os.Stat(eff.Source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Error{Code: ErrCodeSourceMissing, Path: eff.Source, Err: err}
		}
		return &Error{Code: ErrCodeSourceInvalid, Path: eff.Source, Err: err}
	}
	if !fi.IsDir() {
		return &Error{Code: ErrCodeSourceInvalid, Path: eff.Source, Err: errors.New("不是目录")}
	}

	if _, err := os.Stat(eff.Dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Error{Code: ErrCodeDestMissing, Path: eff.Dest, Err: err}
		}
		return &Error{Code: ErrCodeDestUnwritable, Path: eff.Dest, Err: err}
	}
	if err := fsx.ProbeWritable(eff.Dest); err != nil {
		return &Error{Code: ErrCodeDestUnwritable, Path: eff.Dest, Err: err}
	}

	if filepath.Clean(eff.Source) == filepath.Clean(eff.Dest) {
		return &Error{Code: ErrCodeSourceInvalid, Path: eff.Source, Err: errors.New("source 与 dest 不能是同一目录")}
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// findFileConfig 在 dir 下按 configNames 顺序查找并解析配置文件。
// 都不存在时返回零值与空路径（不算错误）。
func findFileConfig(dir string) (FileConfig, string, error) {
	for _, name := range configNames {
		p := filepath.Join(dir, name)
		b, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return FileConfig{}, p, err
		}
		fc, err := parseFileConfig(name, b)
		return fc, p, err
	}
	return FileConfig{}, "", nil
}

func parseFileConfig(name string, b []byte) (FileConfig, error) {
	var fc FileConfig
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return FileConfig{}, err
		}
	default:
		if err := json.Unmarshal(b, &fc); err != nil {
			return FileConfig{}, err
		}
	}
	return fc, nil
}
