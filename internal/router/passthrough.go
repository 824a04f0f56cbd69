package router

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v3"

	"github.com/site-edge/site-edge/internal/cache"
)

// serveOther 处理其余站内 GET 请求：有缓存副本则回放，否则普通回源，
// 不产生任何落盘副作用。
func (h *Handler) serveOther(c fiber.Ctx, req *request) error {
	ctx := requestContext(c)

	cached, err := h.matchCached(ctx, req.key)
	if err == nil {
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
	return h.serveResponse(c, req, resp, false)
}

// servePassthrough 原样转发非 GET 与外域请求：方法、正文、头部全部透传，
// 响应流式写回，全程不触碰缓存。
func (h *Handler) servePassthrough(c fiber.Ctx, req *request) error {
	ctx := requestContext(c)

	httpReq, err := h.buildUpstreamRequest(ctx, req, c.Method(), req.upstream, bytesReader(c.Body()))
	if err != nil {
		h.logResult(req, 0, false, err)
		return h.writeError(c, req, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logResult(req, 0, false, err)
		return h.writeError(c, req, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Site-Edge-Cache-Hit", "false")
	c.Set("X-Site-Edge-Strategy", req.strategy)
	if req.requestID != "" {
		c.Set("X-Request-ID", req.requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(req, resp.StatusCode, false, nil)
		return nil
	}

	_, copyErr := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, resp.StatusCode, false, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", copyErr))
	}
	return nil
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}
