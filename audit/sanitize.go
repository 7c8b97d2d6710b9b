package audit

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

const RedactedValue = "[REDACTED]"

var sensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"creditcard",
}

func isSensitiveKey(key string) bool {
	normalized := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(key))
	for _, s := range sensitiveKeys {
		if strings.Contains(normalized, s) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of details with every sensitive key redacted at any
// depth, including maps nested inside slices. The input is not modified.
func Sanitize(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Sanitize(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return Sanitize(m)
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Sanitize(t[i])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = sanitizeValue(t[i])
		}
		return out
	default:
		return v
	}
}

// AnonymizeIP zeroes the host part of an address: IPv4 keeps its /24 and
// IPv6 its first four groups, written uncompressed as "a:b:c:d::". A trailing
// port is dropped. Unparseable input yields "".
func AnonymizeIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		ap, perr := netip.ParseAddrPort(raw)
		if perr != nil {
			return ""
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap().WithZone("")

	if addr.Is4() {
		prefix, err := addr.Prefix(24)
		if err != nil {
			return ""
		}
		return prefix.Addr().String()
	}

	b := addr.As16()
	return fmt.Sprintf("%x:%x:%x:%x::",
		binary.BigEndian.Uint16(b[0:2]),
		binary.BigEndian.Uint16(b[2:4]),
		binary.BigEndian.Uint16(b[4:6]),
		binary.BigEndian.Uint16(b[6:8]),
	)
}
