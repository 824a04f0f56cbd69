package router

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/config"
	"github.com/site-edge/site-edge/internal/lifecycle"
	"github.com/site-edge/site-edge/internal/server"
)

func TestBuildKeyHashesQueryString(t *testing.T) {
	plain := buildKey("/gallery.html", "")
	if plain != "/gallery.html" {
		t.Fatalf("expected bare path key, got %s", plain)
	}

	hashed := buildKey("/gallery.html", "page=2")
	if !strings.HasPrefix(hashed, "/gallery.html/__qs/") {
		t.Fatalf("expected query hash suffix, got %s", hashed)
	}
	if hashed != buildKey("/gallery.html", "page=2") {
		t.Fatalf("same query should hash to the same key")
	}
	if hashed == buildKey("/gallery.html", "page=3") {
		t.Fatalf("different queries should not collide")
	}
}

func TestStrategiesSortedByClass(t *testing.T) {
	harness := newEdgeHarness(t, staticUpstream("ok"))

	infos := harness.handler.Strategies()
	if len(infos) != 5 {
		t.Fatalf("expected 5 registered strategies, got %d", len(infos))
	}
	for i := 1; i < len(infos); i++ {
		if infos[i].Class < infos[i-1].Class {
			t.Fatalf("strategies not sorted: %s before %s", infos[i-1].Class, infos[i].Class)
		}
	}
	byClass := map[string]string{}
	for _, info := range infos {
		byClass[info.Class] = info.Name
	}
	if byClass["document"] != "network-first" {
		t.Fatalf("expected network-first for documents, got %s", byClass["document"])
	}
	if byClass["asset"] != "stale-while-revalidate" {
		t.Fatalf("expected stale-while-revalidate for assets, got %s", byClass["asset"])
	}
	if byClass["media"] != "cache-first" {
		t.Fatalf("expected cache-first for media, got %s", byClass["media"])
	}
}

func TestHandleRecoversStrategyPanic(t *testing.T) {
	harness := newEdgeHarness(t, staticUpstream("ok"))
	harness.handler.strategies[ClassOther] = strategyEntry{
		name: "boom",
		serve: func(fiber.Ctx, *request) error {
			panic("boom")
		},
	}

	resp := harness.do(t, siteRequest("GET", "/api/quote.json", map[string]string{
		"Accept": "application/json",
	}))
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after strategy panic, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "strategy_panic") {
		t.Fatalf("expected strategy_panic error body, got %s", string(body))
	}
}

// edgeHarness 组装一套完整的边缘测试环境：httptest 源站 + 磁盘缓存 +
// 路由处理器 + Fiber 应用，供各策略测试直接发请求。
type edgeHarness struct {
	app      *fiber.App
	handler  *Handler
	origin   *server.Origin
	store    cache.Store
	gen      lifecycle.Generation
	upstream *httptest.Server
}

func newEdgeHarness(t *testing.T, upstreamHandler http.Handler) *edgeHarness {
	t.Helper()
	return newEdgeHarnessWithTimeout(t, upstreamHandler, config.DefaultDocumentTimeout)
}

func newEdgeHarnessWithTimeout(t *testing.T, upstreamHandler http.Handler, docTimeout time.Duration) *edgeHarness {
	t.Helper()

	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Site: config.SiteConfig{
			Domain:            "www.brushline-decorating.com",
			Upstream:          upstream.URL,
			CacheVersion:      "v1",
			FallbackDocument:  "/index.html",
			CoreAssets:        config.DefaultCoreAssets(),
			DocumentTimeout:   config.Duration(docTimeout),
			MaxRuntimeEntries: config.DefaultMaxRuntimeEntries,
		},
	}
	origin, err := server.NewOrigin(cfg)
	if err != nil {
		t.Fatalf("failed to build origin: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gen := lifecycle.NewGeneration(cfg.Site.CacheVersion)
	handler := NewHandler(upstream.Client(), logger, store, gen)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Origin:     origin,
		Edge:       handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(func() { app.Shutdown() })

	return &edgeHarness{
		app:      app,
		handler:  handler,
		origin:   origin,
		store:    store,
		gen:      gen,
		upstream: upstream,
	}
}

func (h *edgeHarness) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	resp, err := h.app.Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

// seed 直接写入指定分区，模拟既有的缓存副本。
func (h *edgeHarness) seed(t *testing.T, partition, key, body string) {
	t.Helper()

	part, err := h.store.Open(partition)
	if err != nil {
		t.Fatalf("failed to open partition %s: %v", partition, err)
	}
	resp := &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(body),
	}
	if err := part.Put(t.Context(), key, resp); err != nil {
		t.Fatalf("failed to seed %s/%s: %v", partition, key, err)
	}
}

// waitForCached 轮询 runtime 分区直到出现期望正文，用于等待后台落盘。
func (h *edgeHarness) waitForCached(t *testing.T, key, wantBody string) {
	t.Helper()

	part, err := h.store.Open(h.gen.RuntimeName())
	if err != nil {
		t.Fatalf("failed to open runtime partition: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		cached, err := part.Get(t.Context(), key)
		if err == nil && string(cached.Body) == wantBody {
			return
		}
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("cache lookup failed for %s: %v", key, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for cached body %q at key %s", wantBody, key)
}

func (h *edgeHarness) runtimeLen(t *testing.T) int {
	t.Helper()

	part, err := h.store.Open(h.gen.RuntimeName())
	if err != nil {
		t.Fatalf("failed to open runtime partition: %v", err)
	}
	count, err := part.Len(t.Context())
	if err != nil {
		t.Fatalf("failed to count runtime entries: %v", err)
	}
	return count
}

func siteRequest(method, target string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(method, "http://www.brushline-decorating.com"+target, nil)
	req.Host = "www.brushline-decorating.com"
	req.Header.Set("Host", "www.brushline-decorating.com")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	return req
}

func staticUpstream(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	})
}
