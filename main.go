package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/statuscat/internal/cache"
	"github.com/any-hub/statuscat/internal/config"
	"github.com/any-hub/statuscat/internal/logging"
	"github.com/any-hub/statuscat/internal/metrics"
	"github.com/any-hub/statuscat/internal/provider"
	"github.com/any-hub/statuscat/internal/proxy"
	"github.com/any-hub/statuscat/internal/server"
	"github.com/any-hub/statuscat/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	// flags 交给 config.Load 绑定 host/port/cache 等覆盖项。
	flags *pflag.FlagSet
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute 构建 cobra 命令并执行，返回退出码：参数错误为 2，运行失败为 1。
func execute(args []string) int {
	exitCode := 0
	cmd := newRootCommand(&exitCode)
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		return 2
	}
	return exitCode
}

func newRootCommand(exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "statuscat -h <host> -p <port> -c <cache-dir>",
		Short:         "Read-through cache for HTTP status code images",
		Long:          "Serve JPEG images keyed by 3-digit HTTP status codes from a local cache directory, fetching missing ones from the image provider.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := optionsFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			*exitCode = run(opts)
			return nil
		},
	}
	setFlags(cmd.Flags())
	return cmd
}

// setFlags 注册全部标志；help 不占用 -h 简写，-h 留给 host。
func setFlags(flags *pflag.FlagSet) {
	flags.Bool("help", false, "显示帮助")
	flags.StringP("host", "h", "", "监听地址（必填）")
	flags.IntP("port", "p", 0, "监听端口（必填）")
	flags.StringP("cache", "c", "", "缓存目录（必填）")
	flags.String("config", "", "可选的 TOML 配置文件（可被 STATUSCAT_CONFIG 覆盖）")
	flags.String("provider", "", "图片源基础地址（默认 "+config.DefaultProviderURL+"）")
	flags.String("metrics-listen", "", "Prometheus /metrics 监听地址，留空则关闭")
	flags.String("log-level", "", "日志级别（默认 info）")
	flags.Bool("check-config", false, "仅校验配置后退出")
	flags.Bool("version", false, "显示版本信息")
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	flags := pflag.NewFlagSet("statuscat", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	setFlags(flags)
	if err := flags.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	return optionsFromFlags(flags)
}

func optionsFromFlags(flags *pflag.FlagSet) (cliOptions, error) {
	configFlag, err := flags.GetString("config")
	if err != nil {
		return cliOptions{}, err
	}
	checkOnly, err := flags.GetBool("check-config")
	if err != nil {
		return cliOptions{}, err
	}
	showVer, err := flags.GetBool("version")
	if err != nil {
		return cliOptions{}, err
	}

	path := os.Getenv("STATUSCAT_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		flags:       flags,
	}, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath, opts.flags)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["address"] = cfg.Address()
		fields["cache_path"] = cfg.CachePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存目录 → 存储 → 图片源客户端 → Fiber server，
	// 缓存目录无法创建是唯一的致命启动错误。
	state, err := cache.PrepareDir(cfg.CachePath)
	if err != nil {
		logger.WithError(err).WithField("action", "cache_dir").Error("初始化缓存目录失败")
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}
	dirFields := logging.BaseFields("cache_dir", opts.configPath)
	dirFields["cache_path"] = cfg.CachePath
	if state == cache.DirCreated {
		logger.WithFields(dirFields).Info("cache directory created")
	} else {
		logger.WithFields(dirFields).Info("cache directory already exists")
	}

	app, m, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 HTTP 服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["address"] = cfg.Address()
	fields["cache_path"] = cfg.CachePath
	fields["provider"] = cfg.ProviderURL
	fields["memory_cache_ttl"] = cfg.MemoryCacheTTL.DurationValue().String()
	fields["metrics_listen"] = cfg.MetricsListen
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, app, m, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 组装存储、图片源客户端、指标与 Fiber app；缓存目录须已就绪。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, *metrics.Metrics, error) {
	disk, err := cache.NewStore(cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化缓存失败: %w", err)
	}
	store := cache.NewMemoryStore(disk, cfg.MemoryCacheTTL.DurationValue())

	fetcher, err := provider.NewClient(server.NewUpstreamClient(cfg), cfg.ProviderURL)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化图片源失败: %w", err)
	}

	m := metrics.New("statuscat")
	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		Proxy:     proxy.NewHandler(fetcher, logger, store, m),
		Metrics:   m,
		BodyLimit: cfg.MaxBodySize,
	})
	if err != nil {
		return nil, nil, err
	}
	return app, m, nil
}

// serve 同时运行主服务与可选的 metrics 监听，任一失败或收到信号时一起关闭。
func serve(ctx context.Context, cfg *config.Config, app *fiber.App, m *metrics.Metrics, logger *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"action":     "listen",
			"address":    cfg.Address(),
			"cache_path": cfg.CachePath,
		}).Infof("cache server started at %s", cfg.BaseURL())
		return app.Listen(cfg.Address(), fiber.ListenConfig{DisableStartupMessage: true})
	})

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		metricsServer = metrics.NewServer(cfg.MetricsListen, m)
		g.Go(func() error {
			logger.WithFields(logrus.Fields{
				"action":  "listen",
				"address": cfg.MetricsListen,
			}).Info("metrics endpoint started")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return app.ShutdownWithContext(shutdownCtx)
	})

	return g.Wait()
}
