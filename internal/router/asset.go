package router

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/site-edge/site-edge/internal/cache"
)

// serveAsset 实现样式/脚本的 stale-while-revalidate 策略：命中缓存立即
// 返回旧副本，同时在后台回源刷新；未命中则等待回源结果。样式脚本实践上
// 按文件名带版本，短暂返回旧副本是安全的。
func (h *Handler) serveAsset(c fiber.Ctx, req *request) error {
	ctx := requestContext(c)

	cached, err := h.matchCached(ctx, req.key)
	if err == nil {
		h.spawnRevalidate(req)
		return h.serveResponse(c, req, cached, true)
	}
	if !errors.Is(err, cache.ErrNotFound) {
		h.logCacheDegraded(req, "cache_match_failed", err)
	}

	// 无缓存副本时响应路径直接等待回源，失败按资源加载失败向上传播。
	resp, fetchErr := h.fetchUpstream(ctx, req)
	if fetchErr != nil {
		h.logResult(req, 0, false, fetchErr)
		return h.writeError(c, req, fiber.StatusBadGateway, "upstream_failed")
	}
	if isCacheableStatus(resp.Status) {
		h.spawnStore(req, resp)
	}
	return h.serveResponse(c, req, resp, false)
}

// spawnRevalidate 后台刷新缓存条目：回源成功且状态可缓存时覆盖写入并
// 触发裁剪，失败静默（已返回的旧副本继续有效）。
func (h *Handler) spawnRevalidate(req *request) {
	h.spawn("cache_revalidate", req, func(ctx context.Context) error {
		resp, err := h.fetchUpstream(ctx, req)
		if err != nil {
			return err
		}
		if !isCacheableStatus(resp.Status) {
			return nil
		}
		return h.storeRuntime(ctx, req, resp)
	})
}
