package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 负责管理若干命名分区。磁盘布局遵循：
//
//	<StoragePath>/<partition>/<path>       # 响应正文
//	<StoragePath>/<partition>/<path>.meta  # 状态码 / 头部 / 原始键
//
// 分区在首次 Open 时创建，Drop 整体删除，对应旧版本分区的批量回收。
type Store interface {
	// Open 返回命名分区，目录不存在时创建。
	Open(name string) (Partition, error)

	// Names 枚举当前磁盘上存在的全部分区名。
	Names() ([]string, error)

	// Drop 整体删除一个分区，返回是否确有删除动作。
	Drop(ctx context.Context, name string) (bool, error)
}

// Partition 是单个命名分区的读写视图，键为 URL 路径风格字符串。
type Partition interface {
	Name() string

	// Get 返回缓存的完整响应。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Response, error)

	// Put 原子写入响应正文与元数据。重复写入同一键会刷新其写入时间，
	// 从而在淘汰排序中回到队尾。
	Put(ctx context.Context, key string, resp *Response) error

	// Delete 删除单个条目，键不存在时静默成功。
	Delete(ctx context.Context, key string) error

	// Keys 按写入时间升序返回全部键，近似插入顺序（读取不会重排）。
	Keys(ctx context.Context) ([]string, error)

	// Len 返回分区内条目数。
	Len(ctx context.Context) (int, error)
}

// Response 表示一条可回放的缓存响应。Body 为完整正文，静态站点资源体量可控。
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone 返回深拷贝，避免调用方写响应头时污染缓存条目。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := &Response{
		Status:   r.Status,
		Header:   make(http.Header, len(r.Header)),
		Body:     append([]byte(nil), r.Body...),
		StoredAt: r.StoredAt,
	}
	for key, values := range r.Header {
		clone.Header[key] = append([]string(nil), values...)
	}
	return clone
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Match 依次在给定分区中查找同一键，返回第一个命中。分区顺序即优先级，
// 预热分区在前、runtime 在后，对应平台缓存按创建顺序匹配的语义。
func Match(ctx context.Context, store Store, names []string, key string) (*Response, error) {
	for _, name := range names {
		part, err := store.Open(name)
		if err != nil {
			return nil, err
		}
		resp, err := part.Get(ctx, key)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
