package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/server"
)

// errFetchTimeout 表示文档回源超过时限；底层请求仍在进行，结果会被丢弃。
var errFetchTimeout = errors.New("upstream fetch timed out")

// fetchUpstream 发起一次回源 GET 并把响应完整读入内存，返回可直接落盘
// 的 cache.Response。调用方负责决定是否存储。
func (h *Handler) fetchUpstream(ctx context.Context, req *request) (*cache.Response, error) {
	httpReq, err := h.buildUpstreamRequest(ctx, req, http.MethodGet, req.upstream, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &cache.Response{
		Status: resp.StatusCode,
		Header: server.CacheableHeader(resp.Header),
		Body:   body,
	}, nil
}

// fetchWithTimeout 用计时器与回源请求竞速：超时后立即返回 errFetchTimeout，
// 不取消底层请求（缓冲通道保证迟到的结果被安静丢弃而不泄漏 goroutine）。
func (h *Handler) fetchWithTimeout(ctx context.Context, req *request, timeout time.Duration) (*cache.Response, error) {
	type outcome struct {
		resp *cache.Response
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		resp, err := h.fetchUpstream(ctx, req)
		done <- outcome{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		return result.resp, result.err
	case <-timer.C:
		return nil, errFetchTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// buildUpstreamRequest 构造回源请求：透传非 hop-by-hop 头并补齐 X-Forwarded-*。
// 去掉 Accept-Encoding，让源站返回未压缩正文，落盘后可直接回放。
func (h *Handler) buildUpstreamRequest(
	ctx context.Context,
	req *request,
	method string,
	target *url.URL,
	body io.Reader,
) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(httpReq.Header, req.header)
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Host = target.Host
	httpReq.Header.Set("Host", target.Host)
	httpReq.Header.Set("X-Forwarded-Host", req.hostname)
	if req.clientIP != "" {
		if prior := httpReq.Header.Get("X-Forwarded-For"); prior != "" {
			httpReq.Header.Set("X-Forwarded-For", prior+", "+req.clientIP)
		} else {
			httpReq.Header.Set("X-Forwarded-For", req.clientIP)
		}
	}
	httpReq.Header.Set("X-Forwarded-Proto", req.protocol)
	httpReq.Header.Set("X-Forwarded-Port", fmt.Sprintf("%d", req.origin.ListenPort))

	return httpReq, nil
}
