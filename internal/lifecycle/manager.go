package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/site-edge/site-edge/internal/cache"
	"github.com/site-edge/site-edge/internal/logging"
	"github.com/site-edge/site-edge/internal/server"
)

// PreloadEnabler 是导航预取能力的开关抽象，由路由层注入；
// 开启失败属于可选能力缺失，激活流程照常继续。
type PreloadEnabler interface {
	Enable() error
}

// Manager 负责缓存代的两段生命周期：Install 全量预热 core 分区，
// Activate 清除旧代分区并打开可选能力。两段都在进程开始服务前完成。
type Manager struct {
	store    cache.Store
	client   *http.Client
	upstream *url.URL
	gen      Generation
	assets   []string
	logger   *logrus.Logger
}

// NewManager 组装生命周期管理器；upstream 为站点源站根地址。
func NewManager(
	store cache.Store,
	client *http.Client,
	upstream *url.URL,
	gen Generation,
	assets []string,
	logger *logrus.Logger,
) *Manager {
	return &Manager{
		store:    store,
		client:   client,
		upstream: upstream,
		gen:      gen,
		assets:   assets,
		logger:   logger,
	}
}

// Generation 返回当前缓存代。
func (m *Manager) Generation() Generation {
	return m.gen
}

// Install 预热 core 分区：先抓全部核心资产，再批量落盘。任何一项资产
// 抓取失败都放弃本次安装且不写入任何内容；落盘中途失败则整体丢弃分区，
// 保证"全有或全无"，磁盘上不会留下残缺的 core 分区。
func (m *Manager) Install(ctx context.Context) error {
	if len(m.assets) == 0 {
		return errors.New("core asset list is empty")
	}

	started := time.Now()
	fetched := make(map[string]*cache.Response, len(m.assets))
	for _, asset := range m.assets {
		resp, err := m.fetchAsset(ctx, asset)
		if err != nil {
			m.logInstallFailure(asset, err)
			return fmt.Errorf("install asset %s: %w", asset, err)
		}
		fetched[asset] = resp
	}

	part, err := m.store.Open(m.gen.CoreName())
	if err != nil {
		return fmt.Errorf("open core partition: %w", err)
	}
	for _, asset := range m.assets {
		if err := part.Put(ctx, asset, fetched[asset]); err != nil {
			if _, dropErr := m.store.Drop(ctx, m.gen.CoreName()); dropErr != nil {
				m.logInstallFailure(asset, dropErr)
			}
			m.logInstallFailure(asset, err)
			return fmt.Errorf("seed asset %s: %w", asset, err)
		}
	}

	if m.logger != nil {
		fields := logging.LifecycleFields("install", m.gen.Version())
		fields["assets"] = len(m.assets)
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		m.logger.WithFields(fields).Info("core partition seeded")
	}
	return nil
}

// Activate 清除不属于当前代的分区，并尝试开启导航预取。
// 返回被清除的分区名，方便启动日志与测试断言。
func (m *Manager) Activate(ctx context.Context, preload PreloadEnabler) ([]string, error) {
	if preload != nil {
		if err := preload.Enable(); err != nil && m.logger != nil {
			// 可选能力，失败只记 warn。
			fields := logging.LifecycleFields("activate", m.gen.Version())
			fields["error"] = "preload_enable_failed"
			m.logger.WithError(err).WithFields(fields).Warn("navigation preload unavailable")
		}
	}

	names, err := m.store.Names()
	if err != nil {
		return nil, fmt.Errorf("enumerate partitions: %w", err)
	}

	var dropped []string
	for _, name := range names {
		if m.gen.Owns(name) {
			continue
		}
		removed, err := m.store.Drop(ctx, name)
		if err != nil {
			return dropped, fmt.Errorf("drop stale partition %s: %w", name, err)
		}
		if removed {
			dropped = append(dropped, name)
		}
	}

	// runtime 分区此刻即创建，后续 fetch 路径直接写入。
	if _, err := m.store.Open(m.gen.RuntimeName()); err != nil {
		return dropped, fmt.Errorf("open runtime partition: %w", err)
	}

	if m.logger != nil {
		fields := logging.LifecycleFields("activate", m.gen.Version())
		fields["dropped"] = dropped
		m.logger.WithFields(fields).Info("stale cache generations purged")
	}
	return dropped, nil
}

// fetchAsset 从源站抓取单个核心资产，非 2xx 视为失败。
func (m *Manager) fetchAsset(ctx context.Context, asset string) (*cache.Response, error) {
	target := m.upstream.ResolveReference(&url.URL{Path: asset})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

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

func (m *Manager) logInstallFailure(asset string, err error) {
	if m.logger == nil {
		return
	}
	fields := logging.LifecycleFields("install", m.gen.Version())
	fields["asset"] = asset
	m.logger.WithError(err).WithFields(fields).Error("core asset seeding failed")
}
