package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/John-Robertt/photosort/internal/app/run"
	"github.com/John-Robertt/photosort/internal/config"
	"github.com/John-Robertt/photosort/internal/domain"
	"github.com/John-Robertt/photosort/internal/infra/fsx"
	"github.com/John-Robertt/photosort/internal/report"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	switch args[0] {
	case "run":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		code := runCmd(ctx, args[1:], os.Stdout, os.Stderr)
		stop()
		if code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

// runCmd 返回进程退出码：0 完成（即使有单张照片失败），1 致命错误，2 参数错误。
func runCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage(stdout)
			return 0
		}
	}

	ra, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
		printRunUsage(stderr)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Source:       ra.Source,
		Dest:         ra.Dest,
		Workers:      ra.Workers,
		WorkersSet:   ra.WorkersSet,
		UseDevice:    ra.UseDevice,
		UseDeviceSet: ra.UseDeviceSet,
		LogLevel:     ra.LogLevel,
		LogLevelSet:  ra.LogLevelSet,
	})
	if err != nil {
		printFatal(stderr, err)
		return 1
	}

	var obs run.Observer
	if !ra.JSON && isTTY(stderr) {
		ui := newProgressUI(stderr)
		defer ui.Close()
		obs = ui
	}

	res, runErr := run.Execute(ctx, eff, run.Deps{Log: newLogger(stderr, eff.LogLevel)}, obs)
	if runErr != nil && res.Report.RunID == "" {
		// 启动前失败（根目录校验等）：没有任何可汇报的统计。
		printFatal(stderr, runErr)
		return 1
	}

	if ra.ReportPath != "" {
		if err := writeReportFile(ra.ReportPath, res.Report); err != nil {
			fmt.Fprintf(stderr, "写入报告失败：%v\n", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	emitReport(stdout, res.Report, ra.JSON)

	if runErr != nil {
		if run.IsFatal(runErr) {
			printFatal(stderr, runErr)
		} else {
			color.New(color.FgYellow).Fprintf(stderr, "已中断：%v（报告只包含已完成的照片）\n", runErr)
		}
		return 1
	}
	return 0
}

type runArgs struct {
	Source string
	Dest   string

	Workers    int
	WorkersSet bool

	UseDevice    bool
	UseDeviceSet bool

	LogLevel    string
	LogLevelSet bool

	JSON       bool
	ReportPath string
}

func parseRunArgs(args []string) (runArgs, error) {
	ra := runArgs{}

	// value 同时支持 "--name v" 与 "--name=v"。
	value := func(i *int, a, name string) (string, bool, error) {
		if a == name {
			if *i+1 >= len(args) {
				return "", true, fmt.Errorf("%s 需要一个值", name)
			}
			*i++
			return args[*i], true, nil
		}
		if strings.HasPrefix(a, name+"=") {
			return strings.TrimPrefix(a, name+"="), true, nil
		}
		return "", false, nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]

		if v, ok, err := value(&i, a, "--source"); ok {
			if err != nil {
				return runArgs{}, err
			}
			ra.Source = v
			continue
		}
		if v, ok, err := value(&i, a, "--dest"); ok {
			if err != nil {
				return runArgs{}, err
			}
			ra.Dest = v
			continue
		}
		if v, ok, err := value(&i, a, "--workers"); ok {
			if err != nil {
				return runArgs{}, err
			}
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil || n < 1 {
				return runArgs{}, fmt.Errorf("--workers 必须是正整数，实际是 %q", v)
			}
			ra.Workers = n
			ra.WorkersSet = true
			continue
		}
		if v, ok, err := value(&i, a, "--log-level"); ok {
			if err != nil {
				return runArgs{}, err
			}
			if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(v))); err != nil || strings.TrimSpace(v) == "" {
				return runArgs{}, fmt.Errorf("--log-level 无效：%q", v)
			}
			ra.LogLevel = v
			ra.LogLevelSet = true
			continue
		}
		if v, ok, err := value(&i, a, "--report"); ok {
			if err != nil {
				return runArgs{}, err
			}
			if strings.TrimSpace(v) == "" {
				return runArgs{}, fmt.Errorf("--report 不能为空")
			}
			ra.ReportPath = v
			continue
		}

		switch {
		case a == "--device":
			ra.UseDevice = true
			ra.UseDeviceSet = true
		case strings.HasPrefix(a, "--device="):
			v := strings.TrimPrefix(a, "--device=")
			switch v {
			case "true":
				ra.UseDevice = true
			case "false":
				ra.UseDevice = false
			default:
				return runArgs{}, fmt.Errorf("--device 只能是 true 或 false，实际是 %q", v)
			}
			ra.UseDeviceSet = true
		case a == "--json":
			ra.JSON = true
		case strings.HasPrefix(a, "-"):
			return runArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			return runArgs{}, fmt.Errorf("多余的参数 %q（source/dest 请使用 --source/--dest）", a)
		}
	}

	return ra, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  photosort run --source DIR --dest DIR [--workers N] [--device[=true|false]]
                [--log-level LEVEL] [--json] [--report FILE]

命令：
  run    按 拍摄月份/地点/设备 分拣并拷贝照片

使用 "photosort run --help" 查看详细说明。
`)
}

func printRunUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  photosort run --source DIR --dest DIR [参数]

参数：
  --source DIR      照片来源目录（未指定则读 ./photosort.{json,yaml} 的 source）
  --dest DIR        目标根目录（必须已存在且可写）
  --workers N       并发 worker 数（默认 4，范围 1-32）
  --device          在地点下再按设备型号分目录（默认开启）；--device=false 关闭
  --log-level LVL   日志级别：debug|info|warn|error（默认 warn）
  --json            以 JSON 输出报告（替代文本报告）
  --report FILE     额外把 JSON 报告写入 FILE
  -h, --help        显示帮助
`)
}

var (
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// emitReport 输出最终报告：--json 输出单个 JSON；否则输出两份文本报告（TTY 下加边框）。
func emitReport(w io.Writer, r domain.PerformanceReport, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(r)
		return
	}

	sorting := report.Sorting(r)
	perf := report.Performance(r)
	if !isTTY(w) {
		fmt.Fprintln(w, sorting)
		fmt.Fprint(w, perf)
		return
	}
	fmt.Fprintln(w, renderBox(sorting))
	fmt.Fprintln(w, renderBox(perf))
}

// renderBox 把首行渲染为标题并整体加圆角边框。
func renderBox(text string) string {
	text = strings.TrimRight(text, "\n")
	title, body, _ := strings.Cut(text, "\n")
	return boxStyle.Render(titleStyle.Render(title) + "\n" + body)
}

func printFatal(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	if code := config.Code(err); code != "" {
		red.Fprintf(w, "错误 [%s]：", code)
	} else {
		red.Fprint(w, "错误：")
	}
	fmt.Fprintln(w, err)
}

func writeReportFile(path string, r domain.PerformanceReport) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(abs), filepath.Base(abs), b)
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTTY(w),
	}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
