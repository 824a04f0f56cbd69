package router

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/site-edge/site-edge/internal/cache"
)

// serveMedia 实现图片/字体的"缓存优先 + 后台刷新"策略：二进制资产极少
// 变化，优先缓存把延迟压到最低，刷新只是顺带。未命中时回源一次，结果
// 同时返回并落盘。
func (h *Handler) serveMedia(c fiber.Ctx, req *request) error {
	ctx := requestContext(c)

	cached, err := h.matchCached(ctx, req.key)
	if err == nil {
		h.spawnRevalidate(req)
		return h.serveResponse(c, req, cached, true)
	}
	if !errors.Is(err, cache.ErrNotFound) {
		h.logCacheDegraded(req, "cache_match_failed", err)
	}

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
