package router

import (
	"net/http"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/site-edge/site-edge/internal/server"
)

// Class 是请求分类结果，每个截获的请求恰好落入一类。
type Class string

const (
	// ClassDocument 表示导航/文档请求（HTML 页面）。
	ClassDocument Class = "document"
	// ClassAsset 表示样式与脚本请求。
	ClassAsset Class = "asset"
	// ClassMedia 表示图片与字体请求。
	ClassMedia Class = "media"
	// ClassOther 表示其余站内 GET 请求。
	ClassOther Class = "other"
	// ClassPassthrough 表示不截获的请求：非 GET 或 Host 非本站。
	ClassPassthrough Class = "passthrough"
)

// destClasses 将 Sec-Fetch-Dest 取值映射到请求类别，浏览器带该头时以此为准。
var destClasses = map[string]Class{
	"document": ClassDocument,
	"iframe":   ClassDocument,
	"style":    ClassAsset,
	"script":   ClassAsset,
	"image":    ClassMedia,
	"font":     ClassMedia,
}

// assetExtensions/mediaExtensions 是缺少 fetch metadata 时的扩展名兜底。
var assetExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {},
}

var mediaExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".avif": {}, ".svg": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
}

// Classify 根据方法、Host 与请求目的（destination/mode）确定策略类别。
// 仅 GET 且 Host 指向本站的请求会被截获，其余一律透传。
func Classify(c fiber.Ctx, origin *server.Origin) Class {
	if c.Method() != http.MethodGet {
		return ClassPassthrough
	}
	if !origin.IsSiteHost(server.HostHeader(c)) {
		return ClassPassthrough
	}

	dest := strings.ToLower(strings.TrimSpace(c.Get("Sec-Fetch-Dest")))
	if class, ok := destClasses[dest]; ok {
		return class
	}

	if strings.EqualFold(strings.TrimSpace(c.Get("Sec-Fetch-Mode")), "navigate") {
		return ClassDocument
	}

	return classifyByPath(string(c.Request().URI().Path()), c.Get(fiber.HeaderAccept))
}

// classifyByPath 是无 fetch metadata 客户端（curl、老浏览器）的启发式分类。
func classifyByPath(rawPath, accept string) Class {
	clean := path.Clean("/" + rawPath)
	ext := strings.ToLower(path.Ext(clean))

	if _, ok := assetExtensions[ext]; ok {
		return ClassAsset
	}
	if _, ok := mediaExtensions[ext]; ok {
		return ClassMedia
	}

	switch {
	case ext == ".html" || ext == ".htm":
		return ClassDocument
	case strings.HasSuffix(clean, "/") || ext == "":
		// 目录式路径或无扩展名：Accept 带 text/html 视为页面导航。
		if strings.Contains(accept, "text/html") || accept == "" || accept == "*/*" {
			return ClassDocument
		}
	}
	return ClassOther
}
