package rate

import (
	"fmt"
	"net/url"
	"strings"
)

// KeyFor 由服务名与端点 URL 构造分组键 "<service>:<host>"，
// 同一主机上的多个客户端共享额度。
func KeyFor(service, endpoint string) (LimitKey, error) {
	service = strings.ToLower(strings.TrimSpace(service))
	if service == "" {
		return "", fmt.Errorf("rate: empty service")
	}
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("rate: endpoint %q has no host", endpoint)
	}
	return LimitKey(service + ":" + strings.ToLower(u.Hostname())), nil
}
