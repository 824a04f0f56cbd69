package router

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
)

// serveDocument 实现文档请求的"网络优先"策略：
//
//  1. 若导航预取已经替本次请求发起回源，直接等待并使用其结果；
//  2. 否则在 DocumentTimeout 内与计时器竞速回源；
//  3. 回源成功 → 后台写入 runtime 分区并返回；
//  4. 超时或失败 → 回放该 URL 的缓存副本，再退到离线兜底页。
//
// 页面内容要求尽量新鲜，但断网/慢网时站点必须仍可浏览。
func (h *Handler) serveDocument(c fiber.Ctx, req *request) error {
	ctx := requestContext(c)

	if token := preloadTokenFromCtx(c); token != nil {
		// 预取结果同样受文档时限约束，慢源站不拖垮导航。
		waitCtx, cancel := context.WithTimeout(ctx, req.origin.DocumentTimeout)
		resp, err := token.Wait(waitCtx)
		cancel()
		if err == nil && resp != nil {
			if isCacheableStatus(resp.Status) {
				h.spawnStore(req, resp)
			}
			return h.serveResponse(c, req, resp, false)
		}
		// 预取失败不再二次回源，直接走缓存兜底。
		return h.serveDocumentFallback(c, req, ctx)
	}

	resp, err := h.fetchWithTimeout(ctx, req, req.origin.DocumentTimeout)
	if err == nil {
		if isCacheableStatus(resp.Status) {
			h.spawnStore(req, resp)
		}
		return h.serveResponse(c, req, resp, false)
	}

	if h.logger != nil && errors.Is(err, errFetchTimeout) {
		h.logger.WithFields(logrus.Fields{
			"action": "document_fetch",
			"path":   req.cleanPath,
			"error":  "upstream_timeout",
		}).Warn("document fetch timed out, serving cache")
	}
	return h.serveDocumentFallback(c, req, ctx)
}

// serveDocumentFallback 依次尝试精确缓存命中与离线兜底页；两者皆无时
// 请求按失败返回，与网络整体不可用时的自然表现一致。
func (h *Handler) serveDocumentFallback(c fiber.Ctx, req *request, ctx context.Context) error {
	if cached, err := h.matchCached(ctx, req.key); err == nil {
		return h.serveResponse(c, req, cached, true)
	} else if !errors.Is(err, cache.ErrNotFound) {
		h.logCacheDegraded(req, "cache_match_failed", err)
	}

	fallbackKey := req.origin.Config.FallbackDocument
	if cached, err := h.matchCached(ctx, fallbackKey); err == nil {
		return h.serveResponse(c, req, cached, true)
	} else if !errors.Is(err, cache.ErrNotFound) {
		h.logCacheDegraded(req, "fallback_match_failed", err)
	}

	h.logResult(req, 0, false, errors.New("upstream unreachable and no cached fallback"))
	return h.writeError(c, req, fiber.StatusBadGateway, "upstream_failed")
}

func (h *Handler) logCacheDegraded(req *request, code string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.WithError(err).WithFields(logrus.Fields{
		"action": "document_fallback",
		"path":   req.cleanPath,
		"error":  code,
	}).Warn("cache lookup degraded")
}

// requestContext 统一取请求上下文，fiber 未提供时退回 Background。
func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
