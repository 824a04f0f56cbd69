package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/config"
	"github.com/site-edge/site-edge/internal/lifecycle"
	"github.com/site-edge/site-edge/internal/router"
	"github.com/site-edge/site-edge/internal/server"
	"github.com/site-edge/site-edge/internal/server/routes"
)

const siteDomain = "www.brushline-decorating.com"

// siteStub 模拟静态站点源站：按路径返回页面内容，记录命中次数，
// 可注入延迟模拟慢网。
type siteStub struct {
	mu       sync.Mutex
	pages    map[string]string
	hits     map[string]int
	delay    time.Duration
	override http.Handler

	*httptest.Server
}

func newSiteStub(t *testing.T) *siteStub {
	t.Helper()

	stub := &siteStub{
		pages: map[string]string{
			"/":                  "<html>home</html>",
			"/index.html":        "<html>home</html>",
			"/services.html":     "<html>services</html>",
			"/gallery.html":      "<html>gallery</html>",
			"/contact.html":      "<html>contact</html>",
			"/css/style.css":     "body { color: gray }",
			"/js/main.js":        "console.log('brushline')",
			"/img/hero-1600.jpg": "hero-bytes",
		},
		hits: map[string]int{},
	}
	stub.Server = httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(stub.Close)
	return stub
}

func (s *siteStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, ok := s.pages[r.URL.Path]
	s.hits[r.URL.Path]++
	delay := s.delay
	override := s.override
	s.mu.Unlock()

	if override != nil {
		override.ServeHTTP(w, r)
		return
	}

	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, body)
}

func (s *siteStub) set(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *siteStub) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, path)
}

func (s *siteStub) setOverride(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = h
}

func (s *siteStub) setDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *siteStub) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// edgeEnv 是完整的边缘进程装配：与 main.go 相同的启动顺序
// （配置 → 存储 → 预热 → 激活 → Fiber 应用）。
type edgeEnv struct {
	app     *fiber.App
	store   cache.Store
	gen     lifecycle.Generation
	origin  *server.Origin
	handler *router.Handler
	stub    *siteStub
}

func defaultSiteConfig(stub *siteStub, storageDir string) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:  5200,
			StoragePath: storageDir,
		},
		Site: config.SiteConfig{
			Name:              "brushline",
			Domain:            siteDomain,
			Upstream:          stub.URL,
			CacheVersion:      "v1",
			FallbackDocument:  "/index.html",
			CoreAssets:        config.DefaultCoreAssets(),
			DocumentTimeout:   config.Duration(config.DefaultDocumentTimeout),
			MaxRuntimeEntries: config.DefaultMaxRuntimeEntries,
		},
	}
}

func startEdge(t *testing.T, stub *siteStub, mutate func(cfg *config.Config)) *edgeEnv {
	t.Helper()

	cfg := defaultSiteConfig(stub, t.TempDir())
	if mutate != nil {
		mutate(cfg)
	}

	origin, err := server.NewOrigin(cfg)
	if err != nil {
		t.Fatalf("origin error: %v", err)
	}

	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	client := server.NewUpstreamClient(cfg)
	gen := lifecycle.NewGeneration(cfg.Site.CacheVersion)
	manager := lifecycle.NewManager(store, client, origin.UpstreamURL, gen, cfg.Site.CoreAssets, logger)

	ctx := context.Background()
	if err := manager.Install(ctx); err != nil {
		t.Fatalf("install error: %v", err)
	}

	handler := router.NewHandler(client, logger, store, gen)

	var preloader *router.Preloader
	if cfg.Site.PreloadEnabled() {
		preloader = router.NewPreloader(handler)
	}
	if _, err := manager.Activate(ctx, preloader); err != nil {
		t.Fatalf("activate error: %v", err)
	}

	var preloadMiddleware fiber.Handler
	if preloader != nil && preloader.Active() {
		preloadMiddleware = preloader.Middleware(origin)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Origin:     origin,
		Edge:       handler,
		Preload:    preloadMiddleware,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	t.Cleanup(func() { app.Shutdown() })

	return &edgeEnv{
		app:     app,
		store:   store,
		gen:     gen,
		origin:  origin,
		handler: handler,
		stub:    stub,
	}
}

func registerDiagnostics(t *testing.T, env *edgeEnv) {
	t.Helper()

	routes.RegisterDiagnosticsRoutes(env.app, routes.Diagnostics{
		Store:      env.store,
		Generation: env.gen,
		Origin:     env.origin,
		Strategies: env.handler.Strategies(),
	})
}

func (e *edgeEnv) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "http://"+siteDomain+path, nil)
	req.Host = siteDomain
	req.Header.Set("Host", siteDomain)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func (e *edgeEnv) getDocument(t *testing.T, path string) *http.Response {
	return e.get(t, path, map[string]string{"Sec-Fetch-Dest": "document"})
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("读取响应失败: %v", err)
	}
	return string(body)
}

// waitForRuntimeBody 轮询 runtime 分区直到条目正文符合预期。
func (e *edgeEnv) waitForRuntimeBody(t *testing.T, key, want string) {
	t.Helper()

	part, err := e.store.Open(e.gen.RuntimeName())
	if err != nil {
		t.Fatalf("打开 runtime 分区失败: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cached, err := part.Get(context.Background(), key)
		if err == nil && string(cached.Body) == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("等待 runtime 缓存超时: key=%s want=%q", key, want)
}

func (e *edgeEnv) runtimeKeys(t *testing.T) []string {
	t.Helper()

	part, err := e.store.Open(e.gen.RuntimeName())
	if err != nil {
		t.Fatalf("打开 runtime 分区失败: %v", err)
	}
	keys, err := part.Keys(context.Background())
	if err != nil {
		t.Fatalf("枚举 runtime 条目失败: %v", err)
	}
	return keys
}
