package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/请求分类/策略/命中状态字段，供路由请求日志复用。
func RequestFields(site, path, class, strategy string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"path":      path,
		"class":     class,
		"strategy":  strategy,
		"cache_hit": cacheHit,
	}
}

// LifecycleFields 输出 install/activate 阶段日志字段，带上缓存代号便于排查旧分区清理。
func LifecycleFields(action, version string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
	}
}
