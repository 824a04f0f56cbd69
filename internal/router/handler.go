package router

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/lifecycle"
	"github.com/site-edge/site-edge/internal/logging"
	"github.com/site-edge/site-edge/internal/server"
)

// Handler 负责 orchestrate "分类 → 策略派发 → 回源/缓存 → 后台写缓存" 的全流程，
// 对外实现 server.EdgeHandler，内部复用共享 http.Client 与磁盘分区存储。
type Handler struct {
	client     *http.Client
	logger     *logrus.Logger
	store      cache.Store
	gen        lifecycle.Generation
	strategies map[Class]strategyEntry
}

type strategyFunc func(c fiber.Ctx, req *request) error

type strategyEntry struct {
	name        string
	description string
	serve       strategyFunc
}

// StrategyInfo 描述一条已注册策略，供诊断接口输出。
type StrategyInfo struct {
	Class       string `json:"class"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewHandler constructs the edge handler with shared HTTP client/logger/store
// and registers the built-in strategy for each request class.
func NewHandler(client *http.Client, logger *logrus.Logger, store cache.Store, gen lifecycle.Generation) *Handler {
	h := &Handler{
		client: client,
		logger: logger,
		store:  store,
		gen:    gen,
	}
	h.strategies = map[Class]strategyEntry{
		ClassDocument: {
			name:        "network-first",
			description: "network with preload and timeout, falling back to cache then the offline document",
			serve:       h.serveDocument,
		},
		ClassAsset: {
			name:        "stale-while-revalidate",
			description: "serve cached styles/scripts immediately, refresh in the background",
			serve:       h.serveAsset,
		},
		ClassMedia: {
			name:        "cache-first",
			description: "serve cached images/fonts immediately with opportunistic refresh",
			serve:       h.serveMedia,
		},
		ClassOther: {
			name:        "cache-read-through",
			description: "cached match when present, otherwise plain origin fetch without storing",
			serve:       h.serveOther,
		},
		ClassPassthrough: {
			name:        "passthrough",
			description: "non-GET and foreign-host requests forwarded untouched",
			serve:       h.servePassthrough,
		},
	}
	return h
}

// Strategies 按类别字典序返回注册表快照。
func (h *Handler) Strategies() []StrategyInfo {
	infos := make([]StrategyInfo, 0, len(h.strategies))
	for class, entry := range h.strategies {
		infos = append(infos, StrategyInfo{
			Class:       string(class),
			Name:        entry.name,
			Description: entry.description,
		})
	}
	sortStrategyInfos(infos)
	return infos
}

func sortStrategyInfos(infos []StrategyInfo) {
	for i := 1; i < len(infos); i++ {
		for j := i; j > 0 && infos[j].Class < infos[j-1].Class; j-- {
			infos[j], infos[j-1] = infos[j-1], infos[j]
		}
	}
}

// Handle 实现 server.EdgeHandler：分类请求并调用对应策略，策略 panic 时
// 恢复并输出结构化日志，不让单个请求拖垮进程。
func (h *Handler) Handle(c fiber.Ctx, origin *server.Origin) error {
	class := Classify(c, origin)
	entry, ok := h.strategies[class]
	if !ok {
		entry = h.strategies[ClassPassthrough]
	}
	req := h.newRequest(c, origin, class, entry.name)
	return h.invokeStrategy(c, req, entry)
}

func (h *Handler) invokeStrategy(c fiber.Ctx, req *request, entry strategyEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = h.respondStrategyPanic(c, req, r)
		}
	}()
	return entry.serve(c, req)
}

func (h *Handler) respondStrategyPanic(c fiber.Ctx, req *request, recovered interface{}) error {
	h.logResult(req, 0, false, fmt.Errorf("panic: %v", recovered))
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "strategy_panic"})
}

// request 聚合策略执行所需的全部请求上下文，头部等字段在入口处同步快照，
// 后台 goroutine 不再触碰 fiber ctx。
type request struct {
	origin    *server.Origin
	class     Class
	strategy  string
	cleanPath string
	rawQuery  string
	key       string
	upstream  *url.URL
	header    http.Header
	clientIP  string
	protocol  string
	hostname  string
	requestID string
	started   time.Time
}

func (h *Handler) newRequest(c fiber.Ctx, origin *server.Origin, class Class, strategy string) *request {
	cleanPath := normalizeRequestPath(string(c.Request().URI().Path()))
	rawQuery := string(c.Request().URI().QueryString())

	return &request{
		origin:    origin,
		class:     class,
		strategy:  strategy,
		cleanPath: cleanPath,
		rawQuery:  rawQuery,
		key:       buildKey(cleanPath, rawQuery),
		upstream:  origin.ResolveUpstream(cleanPath, rawQuery),
		header:    fiberHeadersAsHTTP(c),
		clientIP:  c.IP(),
		protocol:  c.Protocol(),
		hostname:  c.Hostname(),
		requestID: server.RequestID(c),
		started:   time.Now(),
	}
}

// buildKey 将查询串哈希进缓存键，保持磁盘路径可读且无非法字符。
func buildKey(cleanPath, rawQuery string) string {
	if rawQuery == "" {
		return cleanPath
	}
	sum := sha1.Sum([]byte(rawQuery))
	return fmt.Sprintf("%s/__qs/%s", cleanPath, hex.EncodeToString(sum[:]))
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

// matchCached 按 core → runtime 的顺序查找缓存命中。
func (h *Handler) matchCached(ctx context.Context, key string) (*cache.Response, error) {
	return cache.Match(ctx, h.store, h.gen.MatchOrder(), key)
}

// runtimePartition 返回当前代的 runtime 分区（不存在时创建）。
func (h *Handler) runtimePartition() (cache.Partition, error) {
	return h.store.Open(h.gen.RuntimeName())
}

// storeRuntime 将响应写入 runtime 分区并触发一次裁剪。
func (h *Handler) storeRuntime(ctx context.Context, req *request, resp *cache.Response) error {
	part, err := h.runtimePartition()
	if err != nil {
		return err
	}
	if err := part.Put(ctx, req.key, resp.Clone()); err != nil {
		return err
	}
	cache.Trim(ctx, part, req.origin.MaxRuntimeEntries, h.logger)
	return nil
}

// spawnStore 是响应路径之外的 fire-and-forget 写缓存：失败只记日志，
// 完成与否都不会被调用方等待。
func (h *Handler) spawnStore(req *request, resp *cache.Response) {
	h.spawn("cache_store", req, func(ctx context.Context) error {
		return h.storeRuntime(ctx, req, resp)
	})
}

func (h *Handler) spawn(action string, req *request, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil && h.logger != nil {
				h.logger.WithFields(logrus.Fields{
					"action": action,
					"path":   req.cleanPath,
					"error":  fmt.Sprintf("panic: %v", r),
				}).Warn("background task panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil && h.logger != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"action": action,
				"path":   req.cleanPath,
			}).Debug("background task failed")
		}
	}()
}

// serveResponse 将缓存/回源响应写回客户端并输出结果日志。
func (h *Handler) serveResponse(c fiber.Ctx, req *request, resp *cache.Response, cacheHit bool) error {
	copyResponseHeaders(c, resp.Header)
	c.Response().Header.SetContentLength(len(resp.Body))
	c.Set("X-Site-Edge-Cache-Hit", boolHeader(cacheHit))
	c.Set("X-Site-Edge-Strategy", req.strategy)
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}

	status := resp.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)

	_, err := c.Response().BodyWriter().Write(resp.Body)
	h.logResult(req, status, cacheHit, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("write response failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, req *request, status int, code string) error {
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *request, status int, cacheHit bool, err error) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(
		req.origin.Config.LogName(),
		req.cleanPath,
		string(req.class),
		req.strategy,
		cacheHit,
	)
	fields["action"] = "edge"
	fields["upstream"] = req.upstream.String()
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(req.started).Milliseconds()
	if req.requestID != "" {
		fields["request_id"] = req.requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("edge_failed")
		return
	}
	h.logger.WithFields(fields).Info("edge_complete")
}

func isCacheableStatus(status int) bool {
	return status == http.StatusOK
}

func boolHeader(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
