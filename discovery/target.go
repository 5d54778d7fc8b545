package discovery

import (
	"net"
	"strconv"
	"strings"
)

// targetResult 从实例属性推导出的抓取地址
type targetResult struct {
	target  string
	badPort string // 端口属性存在但无效时记录原值
}

// extractTarget 按 addressKeys 与 portKeys 的顺序取第一个非空值组成 host[:port]
//
// 地址值本身已是 host:port 形式且端口有效时直接使用，端口无效时只保留主机部分。
// 端口非数字或越界时退化为只有主机。只有 IPv6 字面量会加方括号；
// 其余带冒号的值视为无可用地址，ok 为 false。
func extractTarget(attrs map[string]string, addressKeys, portKeys []string) (res targetResult, ok bool) {
	raw := firstValue(attrs, addressKeys)
	if raw == "" {
		return res, false
	}

	host := raw
	if h, p, err := net.SplitHostPort(raw); err == nil {
		if port, ok := parsePort(p); ok {
			if !validHost(h) {
				return res, false
			}
			res.target = net.JoinHostPort(h, port)
			return res, true
		}
		host = h
		res.badPort = p
	} else if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		host = raw[1 : len(raw)-1]
	}
	if !validHost(host) {
		return targetResult{}, false
	}

	if p := firstValue(attrs, portKeys); p != "" {
		if port, ok := parsePort(p); ok {
			res.target = net.JoinHostPort(host, port)
			res.badPort = ""
			return res, true
		}
		if res.badPort == "" {
			res.badPort = p
		}
	}

	if strings.Contains(host, ":") {
		res.target = "[" + host + "]"
	} else {
		res.target = host
	}
	return res, true
}

// validHost 带冒号的主机必须是 IP 字面量，其余主机不能含空白或方括号
func validHost(host string) bool {
	if host == "" || strings.ContainsAny(host, "[]/ \t") {
		return false
	}
	if strings.Contains(host, ":") {
		return net.ParseIP(host) != nil
	}
	return true
}

func firstValue(attrs map[string]string, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(attrs[k]); v != "" {
			return v
		}
	}
	return ""
}

// parsePort 返回规范化的十进制端口
func parsePort(s string) (string, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return "", false
	}
	return strconv.Itoa(n), true
}
