package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta"

// NewStore 以 basePath 为根目录构建磁盘分区存储，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		now:      time.Now,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Open(name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition %s: %w", name, err)
	}
	return &partition{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) Drop(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validatePartitionName(name); err != nil {
		return false, err
	}
	dir := filepath.Join(s.basePath, name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

// validatePartitionName 禁止路径分隔符与相对段，分区名只能是单层目录。
func validatePartitionName(name string) error {
	if name == "" {
		return errors.New("partition name required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid partition name: %s", name)
	}
	return nil
}

type partition struct {
	store *fileStore
	name  string
	dir   string
}

// entryMeta 是 .meta 边车文件的 JSON 结构，Key 字段保留原始键以便 Keys 反查。
type entryMeta struct {
	Key      string              `json:"key"`
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"header"`
	StoredAt time.Time           `json:"stored_at"`
}

func (p *partition) Name() string {
	return p.name
}

func (p *partition) Get(ctx context.Context, key string) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	bodyPath, err := p.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	meta, err := readMeta(bodyPath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &Response{
		Status:   meta.Status,
		Header:   http.Header(meta.Header),
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

func (p *partition) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := p.store.lockEntry(p.name, key)
	defer unlock()

	bodyPath, err := p.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return err
	}

	storedAt := p.store.now().UTC()
	meta := entryMeta{
		Key:      key,
		Status:   resp.Status,
		Header:   resp.Header,
		StoredAt: storedAt,
	}
	if meta.Status == 0 {
		meta.Status = http.StatusOK
	}

	if err := writeFileAtomic(bodyPath, resp.Body); err != nil {
		return err
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		os.Remove(bodyPath)
		return err
	}
	if err := writeFileAtomic(bodyPath+metaSuffix, encoded); err != nil {
		os.Remove(bodyPath)
		return err
	}

	// 正文文件的 ModTime 即淘汰排序依据，重复写入刷新到队尾。
	if err := os.Chtimes(bodyPath, storedAt, storedAt); err != nil {
		return err
	}
	return nil
}

func (p *partition) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := p.store.lockEntry(p.name, key)
	defer unlock()

	bodyPath, err := p.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(bodyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Remove(bodyPath + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (p *partition) Keys(ctx context.Context) ([]string, error) {
	type keyed struct {
		key     string
		written time.Time
	}

	var entries []keyed
	err := filepath.WalkDir(p.dir, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), metaSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		meta, err := readMeta(fullPath + metaSuffix)
		if err != nil {
			// 缺失边车的孤儿文件不计入键空间。
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		entries = append(entries, keyed{key: meta.Key, written: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].written.Equal(entries[j].written) {
			return entries[i].key < entries[j].key
		}
		return entries[i].written.Before(entries[j].written)
	})

	keys := make([]string, len(entries))
	for i, entry := range entries {
		keys[i] = entry.key
	}
	return keys, nil
}

func (p *partition) Len(ctx context.Context) (int, error) {
	count := 0
	err := filepath.WalkDir(p.dir, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), metaSuffix) {
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (p *partition) entryPath(key string) (string, error) {
	rel := key
	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	bodyPath := filepath.Join(p.dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(bodyPath, p.dir) {
		return "", errors.New("invalid cache path")
	}
	return bodyPath, nil
}

func (s *fileStore) lockEntry(partitionName, key string) func() {
	lockKey := partitionName + "::" + key
	s.mu.Lock()
	lock := s.locks[lockKey]
	if lock == nil {
		lock = &entryLock{}
		s.locks[lockKey] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, lockKey)
		}
		s.mu.Unlock()
	}
}

func readMeta(metaPath string) (*entryMeta, error) {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode meta %s: %w", metaPath, err)
	}
	return &meta, nil
}

func writeFileAtomic(dest string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(dest), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, dest); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}
