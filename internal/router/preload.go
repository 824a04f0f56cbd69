package router

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/server"
)

const contextKeyPreload = "_siteedge_preload"

type preloadOutcome struct {
	resp *cache.Response
	err  error
}

// PreloadToken 代表一次已在途的导航预取，文档策略通过 Wait 领取结果。
type PreloadToken struct {
	ch chan preloadOutcome
}

// Wait 阻塞等待预取完成或上下文取消。
func (t *PreloadToken) Wait(ctx context.Context) (*cache.Response, error) {
	select {
	case outcome := <-t.ch:
		return outcome.resp, outcome.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Preloader 是导航预取能力：激活阶段调用 Enable 打开开关，之后中间件
// 为每个文档请求在策略派发前抢先发起回源，缩短首字节时间。
type Preloader struct {
	handler *Handler
	enabled atomic.Bool
}

// NewPreloader 绑定派发器并返回未启用状态的预取器。
func NewPreloader(handler *Handler) *Preloader {
	return &Preloader{handler: handler}
}

// Enable 实现 lifecycle.PreloadEnabler。
func (p *Preloader) Enable() error {
	if p == nil || p.handler == nil {
		return errors.New("preloader not wired")
	}
	p.enabled.Store(true)
	return nil
}

// Active 返回能力是否已开启。
func (p *Preloader) Active() bool {
	return p != nil && p.enabled.Load()
}

// Middleware 返回 Fiber 中间件：命中文档类请求时同步快照请求上下文、
// 异步发起回源，并把令牌挂到请求 Locals 供策略消费。
func (p *Preloader) Middleware(origin *server.Origin) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !p.Active() {
			return c.Next()
		}
		if strings.HasPrefix(string(c.Request().URI().Path()), "/-/") {
			return c.Next()
		}
		if Classify(c, origin) != ClassDocument {
			return c.Next()
		}

		req := p.handler.newRequest(c, origin, ClassDocument, "network-first")
		token := &PreloadToken{ch: make(chan preloadOutcome, 1)}

		go func() {
			defer func() {
				if r := recover(); r != nil {
					token.ch <- preloadOutcome{err: errors.New("preload panicked")}
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			resp, err := p.handler.fetchUpstream(ctx, req)
			if err != nil && p.handler.logger != nil {
				p.handler.logger.WithError(err).WithFields(logrus.Fields{
					"action": "navigation_preload",
					"path":   req.cleanPath,
				}).Debug("preload fetch failed")
			}
			token.ch <- preloadOutcome{resp: resp, err: err}
		}()

		c.Locals(contextKeyPreload, token)
		return c.Next()
	}
}

func preloadTokenFromCtx(c fiber.Ctx) *PreloadToken {
	if value := c.Locals(contextKeyPreload); value != nil {
		if token, ok := value.(*PreloadToken); ok {
			return token
		}
	}
	return nil
}
