package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/lifecycle"
	"github.com/site-edge/site-edge/internal/router"
	"github.com/site-edge/site-edge/internal/server"
)

// Diagnostics 聚合诊断接口需要的只读依赖。
type Diagnostics struct {
	Store      cache.Store
	Generation lifecycle.Generation
	Origin     *server.Origin
	Strategies []router.StrategyInfo
}

// RegisterDiagnosticsRoutes 暴露 /-/cache 与 /-/strategies 诊断接口，
// 供运维查询分区水位与策略绑定关系。
func RegisterDiagnosticsRoutes(app *fiber.App, deps Diagnostics) {
	if app == nil || deps.Store == nil || deps.Origin == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		names, err := deps.Store.Names()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		sort.Strings(names)

		partitions := make([]partitionPayload, 0, len(names))
		for _, name := range names {
			entry := partitionPayload{
				Name:   name,
				Active: deps.Generation.Owns(name),
			}
			part, err := deps.Store.Open(name)
			if err == nil {
				if count, err := part.Len(c.Context()); err == nil {
					entry.Entries = count
				}
			}
			partitions = append(partitions, entry)
		}

		return c.JSON(fiber.Map{
			"site":                deps.Origin.Config.LogName(),
			"cache_version":       deps.Generation.Version(),
			"max_runtime_entries": deps.Origin.MaxRuntimeEntries,
			"partitions":          partitions,
		})
	})

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"site":       deps.Origin.Config.LogName(),
			"domain":     deps.Origin.Config.Domain,
			"upstream":   deps.Origin.UpstreamURL.String(),
			"strategies": deps.Strategies,
		})
	})
}

type partitionPayload struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Active  bool   `json:"active"`
}
