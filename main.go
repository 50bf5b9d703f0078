package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/crates-hub/crates-hub/internal/config"
	"github.com/crates-hub/crates-hub/internal/db"
	"github.com/crates-hub/crates-hub/internal/logging"
	"github.com/crates-hub/crates-hub/internal/proxy"
	"github.com/crates-hub/crates-hub/internal/registry"
	"github.com/crates-hub/crates-hub/internal/server"
	"github.com/crates-hub/crates-hub/internal/storage"
	"github.com/crates-hub/crates-hub/internal/version"
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
		fields["data_dir"] = cfg.Global.DataDir
		fields["proxy_enabled"] = cfg.Proxy.Enabled
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Global.DbPath), 0o755); err != nil {
		fmt.Fprintf(stdErr, "创建数据目录失败: %v\n", err)
		return 1
	}

	provider, err := db.Open(cfg.Global.DbPath)
	if err != nil {
		fmt.Fprintf(stdErr, "打开数据库失败: %v\n", err)
		return 1
	}
	defer provider.Close()

	if err := bootstrapAdmin(cfg, provider); err != nil {
		fmt.Fprintf(stdErr, "初始化管理员失败: %v\n", err)
		return 1
	}

	// 启动遵循“配置 → 数据库 → 工件存储 → 处理器 → Fiber server”顺序，
	// 私有 registry 与 crates.io 缓存使用相互隔离的存储根目录。
	crateStore, err := storage.NewStore(filepath.Join(cfg.Global.DataDir, "crates"))
	if err != nil {
		fmt.Fprintf(stdErr, "初始化工件存储失败: %v\n", err)
		return 1
	}
	cacheStore, err := storage.NewStore(filepath.Join(cfg.Global.DataDir, "cratesio"))
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}

	httpClient := server.NewUpstreamClient(cfg)
	registryHandler := registry.New(provider, crateStore, cfg, logger)
	proxyHandler := proxy.New(httpClient, provider, cacheStore, cfg, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["data_dir"] = cfg.Global.DataDir
	fields["listen_port"] = cfg.Global.ListenPort
	fields["proxy_enabled"] = cfg.Proxy.Enabled
	fields["docs_enabled"] = cfg.Docs.Enabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, provider, registryHandler, proxyHandler, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// bootstrapAdmin 在配置了 AdminToken 时落库管理员身份，令牌注册是幂等的。
func bootstrapAdmin(cfg *config.Config, provider db.Provider) error {
	if cfg.Global.AdminToken == "" {
		return nil
	}
	ctx := context.Background()
	if err := provider.AddUser(ctx, "admin", true); err != nil {
		return err
	}
	return provider.AddAuthToken(ctx, "bootstrap admin token", cfg.Global.AdminToken, "admin")
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("crates-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CRATES_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CRATES_HUB_CONFIG")
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

func startHTTPServer(cfg *config.Config, provider db.Provider, registryHandler server.RegistryAPI, proxyHandler server.ProxyAPI, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app := server.NewApp(server.AppOptions{
		Logger:   logger,
		DB:       provider,
		Registry: registryHandler,
		Proxy:    proxyHandler,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
