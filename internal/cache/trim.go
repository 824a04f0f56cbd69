package cache

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Trim 将分区条目数压回 max 以内，按写入时间先后淘汰最旧条目（软 LRU：
// 只有写入会刷新次序，读取不会）。尽力而为：任何失败只记日志，永远不会
// 阻塞或破坏响应路径。返回实际淘汰的条目数。
func Trim(ctx context.Context, part Partition, max int, logger *logrus.Logger) int {
	if part == nil || max <= 0 {
		return 0
	}

	keys, err := part.Keys(ctx)
	if err != nil {
		logTrimFailure(logger, part, "trim_keys_failed", err)
		return 0
	}
	if len(keys) <= max {
		return 0
	}

	evicted := 0
	for _, key := range keys[:len(keys)-max] {
		if err := part.Delete(ctx, key); err != nil {
			logTrimFailure(logger, part, "trim_delete_failed", err)
			continue
		}
		evicted++
	}

	if logger != nil && evicted > 0 {
		logger.WithFields(logrus.Fields{
			"action":    "cache_trim",
			"partition": part.Name(),
			"evicted":   evicted,
			"max":       max,
		}).Debug("runtime cache trimmed")
	}
	return evicted
}

func logTrimFailure(logger *logrus.Logger, part Partition, code string, err error) {
	if logger == nil {
		return
	}
	logger.WithError(err).WithFields(logrus.Fields{
		"action":    "cache_trim",
		"partition": part.Name(),
		"error":     code,
	}).Warn("cache trim degraded")
}
