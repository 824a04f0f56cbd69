package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/config"
	"github.com/site-edge/site-edge/internal/lifecycle"
	"github.com/site-edge/site-edge/internal/logging"
	"github.com/site-edge/site-edge/internal/router"
	"github.com/site-edge/site-edge/internal/server"
	"github.com/site-edge/site-edge/internal/server/routes"
	"github.com/site-edge/site-edge/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["site"] = cfg.Site.LogName()
		fields["core_assets"] = len(cfg.Site.CoreAssets)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	origin, err := server.NewOrigin(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建站点描述失败: %v\n", err)
		return 1
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	gen := lifecycle.NewGeneration(cfg.Site.CacheVersion)
	manager := lifecycle.NewManager(store, httpClient, origin.UpstreamURL, gen, cfg.Site.CoreAssets, logger)

	// 启动顺序固定为"预热 → 激活 → 监听"：core 分区完整落盘、旧代分区
	// 清理完毕之前不接受任何请求，等同于激活完成后才接管流量。
	ctx := context.Background()
	if err := manager.Install(ctx); err != nil {
		fmt.Fprintf(stdErr, "core 资产预热失败: %v\n", err)
		return 1
	}

	edge := router.NewHandler(httpClient, logger, store, gen)

	var preloader *router.Preloader
	if cfg.Site.PreloadEnabled() {
		preloader = router.NewPreloader(edge)
	}
	if _, err := manager.Activate(ctx, preloader); err != nil {
		fmt.Fprintf(stdErr, "缓存代激活失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["site"] = cfg.Site.LogName()
	fields["cache_version"] = cfg.Site.CacheVersion
	fields["core_assets"] = len(cfg.Site.CoreAssets)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, origin, store, gen, edge, preloader, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("site-edge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SITE_EDGE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SITE_EDGE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(
	cfg *config.Config,
	origin *server.Origin,
	store cache.Store,
	gen lifecycle.Generation,
	edge *router.Handler,
	preloader *router.Preloader,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort

	var preloadMiddleware fiber.Handler
	if preloader != nil && preloader.Active() {
		preloadMiddleware = preloader.Middleware(origin)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Origin:     origin,
		Edge:       edge,
		Preload:    preloadMiddleware,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, routes.Diagnostics{
		Store:      store,
		Generation: gen,
		Origin:     origin,
		Strategies: edge.Strategies(),
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
		"site":   cfg.Site.LogName(),
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
