package geo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/John-Robertt/photosort/internal/domain"
)

// DefaultCacheSize 是地名缓存的默认容量。
const DefaultCacheSize = 1000

// Client 是外部反向地理编码服务。
//
// 约定：
// - 服务明确表示 "该坐标没有地名" 时返回 ("", nil)
// - 网络/协议错误返回非 nil error
type Client interface {
	Lookup(ctx context.Context, lat, lon float64) (string, error)
}

// Recorder 接收每一次地名解析（经过缓存的）计量事件。
type Recorder interface {
	RecordGeocode(hit bool, d time.Duration)
}

// LookupError 表示外部反查失败；只影响当前照片。
type LookupError struct {
	Lat float64
	Lon float64
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("反向地理编码失败（%.4f,%.4f）：%v", e.Lat, e.Lon, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Resolver 把坐标解析为地名，并在进程内缓存结果。
//
// 约束：
// - 缓存键为坐标 4 位小数取整（domain.GeoKey），容量固定，按最近最少使用淘汰
// - 外部调用期间不持锁；同一 key 的并发未命中合并为一次外部调用
// - 失败结果不缓存
type Resolver struct {
	mu  sync.Mutex
	lru *simplelru.LRU[domain.GeoKey, string]

	inflight singleflight.Group

	client Client
	rec    Recorder
	log    zerolog.Logger
}

func NewResolver(client Client, size int, rec Recorder, log zerolog.Logger) (*Resolver, error) {
	if client == nil {
		return nil, fmt.Errorf("geo: client 不能为空")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	r := &Resolver{client: client, rec: rec, log: log}
	lru, err := simplelru.NewLRU[domain.GeoKey, string](size, func(k domain.GeoKey, _ string) {
		r.log.Debug().Int64("lat_e4", k.LatE4).Int64("lon_e4", k.LonE4).Msg("geo cache evict")
	})
	if err != nil {
		return nil, err
	}
	r.lru = lru
	return r, nil
}

// Resolve 返回坐标对应的地名。
//
// gps 为 nil 时直接返回 domain.PlaceUnknown，不触碰缓存也不计入解析次数。
// 服务返回空地名时缓存并返回 domain.PlaceUnknown。
func (r *Resolver) Resolve(ctx context.Context, gps *domain.Coordinate) (string, error) {
	if gps == nil {
		return domain.PlaceUnknown, nil
	}
	key := domain.KeyOf(*gps)
	started := time.Now()

	if name, ok := r.get(key); ok {
		r.record(true, started)
		return name, nil
	}

	leader := false
	v, err, _ := r.inflight.Do(keyString(key), func() (any, error) {
		leader = true
		// 二次检查：前一个同 key 请求可能刚刚写入。
		if name, ok := r.get(key); ok {
			leader = false
			return name, nil
		}

		c := key.Coordinate()
		name, err := r.client.Lookup(ctx, c.Lat, c.Lon)
		if err != nil {
			return "", &LookupError{Lat: c.Lat, Lon: c.Lon, Err: err}
		}
		if name == "" {
			name = domain.PlaceUnknown
		}

		r.mu.Lock()
		r.lru.Add(key, name)
		r.mu.Unlock()
		return name, nil
	})
	if err != nil {
		// 失败结果没有进入缓存：无论是否合并到别人的调用，都计为一次未命中，耗时照常计入。
		r.record(false, started)
		return "", err
	}

	// 只有真正发起外部调用的那一个请求计为未命中。
	r.record(!leader, started)
	return v.(string), nil
}

// Len 返回当前缓存条目数（不超过容量）。
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

func (r *Resolver) get(key domain.GeoKey) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Get 会刷新最近使用顺序，因此这里不能用读锁。
	return r.lru.Get(key)
}

func (r *Resolver) record(hit bool, started time.Time) {
	if r.rec != nil {
		r.rec.RecordGeocode(hit, time.Since(started))
	}
}

func keyString(k domain.GeoKey) string {
	return fmt.Sprintf("%d,%d", k.LatE4, k.LonE4)
}
