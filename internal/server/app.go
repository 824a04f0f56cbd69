package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EdgeHandler describes the component responsible for routing requests through
// the per-class cache strategies. It allows injecting fake handlers in tests.
type EdgeHandler interface {
	Handle(fiber.Ctx, *Origin) error
}

// EdgeHandlerFunc adapts a function to the EdgeHandler interface.
type EdgeHandlerFunc func(fiber.Ctx, *Origin) error

// Handle makes EdgeHandlerFunc satisfy EdgeHandler.
func (f EdgeHandlerFunc) Handle(c fiber.Ctx, origin *Origin) error {
	return f(c, origin)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger *logrus.Logger
	Origin *Origin
	Edge   EdgeHandler
	// Preload 是可选的导航预取中间件；激活阶段未开启能力时传 nil。
	Preload    fiber.Handler
	ListenPort int
}

const contextKeyRequestID = "_siteedge_request_id"

// NewApp builds a Fiber application with request-ID middleware and the edge
// dispatch entry point. Diagnostic paths under /-/ bypass cache routing.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.Edge == nil {
		return nil, errors.New("edge handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())
	if opts.Preload != nil {
		app.Use(opts.Preload)
	}

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Edge.Handle(c, opts.Origin)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，供全链路日志与响应头复用。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// HostHeader 返回客户端 Host 头（缺失时退回 fiber 解析的主机名）。
func HostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return c.Hostname()
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
