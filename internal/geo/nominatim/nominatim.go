package nominatim

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/John-Robertt/photosort/internal/infra/httpx"
)

// DefaultBaseURL 是公共 Nominatim 实例。
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// zoom=10 对应城市级别。
const zoomCity = 10

// placeFields 是 addressparts 中的候选字段，按优先级排列。
var placeFields = []string{"city", "town", "village", "municipality", "county", "state", "country"}

// Client 调用 Nominatim /reverse 接口把坐标解析为城市级地名。
//
// 约束：
// - 不做缓存（由 geo.Resolver 控制）
// - Limiter 非 nil 时每个请求先取令牌；等待只受 ctx 约束，不占用 HTTP 超时
// - 服务明确返回 <error>（例如海上坐标）时返回 ("", nil)
type Client struct {
	BaseURL  string
	Language string
	HTTP     *http.Client
	Limiter  *rate.Limiter
}

// NewLimiter 返回每秒 rps 个请求、突发为 1 的限速器；rps <= 0 表示不限速（返回 nil）。
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func (c Client) Lookup(ctx context.Context, lat, lon float64) (string, error) {
	if c.HTTP == nil {
		return "", errors.New("http client 不能为空")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	b, err := c.fetch(ctx, c.reverseURL(lat, lon))
	if err != nil {
		return "", err
	}
	return Parse(b)
}

func (c Client) reverseURL(lat, lon float64) string {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	q := url.Values{}
	q.Set("format", "xml")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("zoom", strconv.Itoa(zoomCity))
	q.Set("addressdetails", "1")
	if lang := strings.TrimSpace(c.Language); lang != "" {
		q.Set("accept-language", lang)
	}
	return base + "/reverse?" + q.Encode()
}

func (c Client) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpx.StatusError{URL: u, StatusCode: resp.StatusCode}
	}
	if len(b) == 0 {
		return nil, errors.New("empty response body")
	}
	return b, nil
}

// Parse 从 reverse 接口的 XML 响应中取出地名。纯函数。
//
// 规则：
// - 存在 <error>：该坐标没有地名，返回 ""
// - 按 placeFields 顺序取第一个非空的 addressparts 字段
// - addressparts 全空时回退到 <result> 的第一段（display name）
func Parse(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if doc.Find("reversegeocode").Length() == 0 {
		return "", errors.New("响应不是 reversegeocode 文档")
	}
	if doc.Find("reversegeocode > error").Length() > 0 {
		return "", nil
	}

	parts := doc.Find("addressparts").First()
	for _, f := range placeFields {
		if v := normSpace(parts.Find(f).First().Text()); v != "" {
			return v, nil
		}
	}

	display := normSpace(doc.Find("result").First().Text())
	if i := strings.Index(display, ","); i >= 0 {
		display = strings.TrimSpace(display[:i])
	}
	return display, nil
}

func normSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
