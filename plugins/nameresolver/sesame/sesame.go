// Package sesame 通过 CDS Sesame 服务把天体名称解析为 ICRS 坐标。
package sesame

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"spikepsf/internal/rate"
	"spikepsf/pkg/contract"
)

// Options: 服务地址、超时、重试与限速。
type Options struct {
	BaseURL        string `json:"base_url"`        // 默认 CDS 镜像；名称以查询串附加
	TimeoutSeconds int    `json:"timeout_seconds"` // 单次请求超时，默认 20
	MaxTries       int    `json:"max_tries"`       // 默认 3
	RPM            int    `json:"rpm"`             // 每分钟请求上限；0 不限
	Burst          int    `json:"burst"`
}

// DefaultBaseURL: Sesame 纯文本接口（-oI 输出 %J 行），依次查询 Simbad/NED/VizieR。
const DefaultBaseURL = "https://cds.unistra.fr/cgi-bin/nph-sesame/-oI/SNV"

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 20
	}
	if o.MaxTries <= 0 {
		o.MaxTries = 3
	}
}

// Client 实现 contract.NameResolver；结果按名称缓存。
type Client struct {
	hc       *http.Client
	base     string
	maxTries uint
	gate     rate.Gate
	key      rate.LimitKey
	initial  time.Duration

	mu    sync.Mutex
	cache map[string]contract.SkyCoord
}

// New 构造客户端。
func New(opts Options) (*Client, error) {
	opts.defaults()
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: sesame base_url: %w", contract.ErrInvalidInput, err)
	}
	key, err := rate.KeyFor("sesame", opts.BaseURL)
	if err != nil {
		return nil, err
	}
	limits := map[rate.LimitKey]rate.Limits{}
	if opts.RPM > 0 {
		limits[key] = rate.Limits{RPM: opts.RPM, Burst: opts.Burst}
	}
	return &Client{
		hc:       &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
		base:     opts.BaseURL,
		maxTries: uint(opts.MaxTries),
		gate:     rate.NewGate(limits, nil),
		key:      key,
		initial:  500 * time.Millisecond,
		cache:    map[string]contract.SkyCoord{},
	}, nil
}

// Lookup 解析名称；未找到返回 ErrNameResolution。
func (c *Client) Lookup(ctx context.Context, name string) (contract.SkyCoord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return contract.SkyCoord{}, fmt.Errorf("%w: empty name", contract.ErrNameResolution)
	}
	c.mu.Lock()
	if sc, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return sc, nil
	}
	c.mu.Unlock()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initial
	sc, err := backoff.Retry(ctx, func() (contract.SkyCoord, error) {
		if err := c.gate.Wait(ctx, c.key, 1); err != nil {
			return contract.SkyCoord{}, backoff.Permanent(err)
		}
		return c.query(ctx, name)
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return contract.SkyCoord{}, err
	}
	c.mu.Lock()
	c.cache[name] = sc
	c.mu.Unlock()
	return sc, nil
}

func (c *Client) query(ctx context.Context, name string) (contract.SkyCoord, error) {
	u := c.base + "?" + url.QueryEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return contract.SkyCoord{}, backoff.Permanent(err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return contract.SkyCoord{}, backoff.Permanent(ctx.Err())
		}
		return contract.SkyCoord{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		ue := upstreamError{status: resp.StatusCode, msg: strings.TrimSpace(string(b))}
		if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
			return contract.SkyCoord{}, ue
		}
		return contract.SkyCoord{}, backoff.Permanent(ue)
	}
	sc, ok, err := Parse(resp.Body)
	if err != nil {
		return contract.SkyCoord{}, backoff.Permanent(err)
	}
	if !ok {
		return contract.SkyCoord{}, backoff.Permanent(fmt.Errorf("%w: %q not found", contract.ErrNameResolution, name))
	}
	return sc, nil
}

// Parse 读取首个 "%J ra dec" 行。
func Parse(r io.Reader) (contract.SkyCoord, bool, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "%J ") {
			continue
		}
		f := strings.Fields(line[3:])
		if len(f) < 2 {
			continue
		}
		ra, err1 := strconv.ParseFloat(f[0], 64)
		dec, err2 := strconv.ParseFloat(f[1], 64)
		if err1 != nil || err2 != nil {
			return contract.SkyCoord{}, false, fmt.Errorf("%w: bad %%J line %q", contract.ErrNameResolution, line)
		}
		return contract.SkyCoord{RA: ra, Dec: dec}, true, nil
	}
	return contract.SkyCoord{}, false, sc.Err()
}

// upstreamError: Sesame 返回的非 200 响应。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string { return fmt.Sprintf("sesame upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool { return e.status == http.StatusGatewayTimeout }
func (e upstreamError) Temporary() bool { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }
