package targets

import "strings"

// ConfigString returns the trimmed value for key from target.Config or a fallback.
func ConfigString(t Target, key, fallback string) string {
	if t.Config != nil {
		if trimmed := strings.TrimSpace(t.Config[key]); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey      = "user_agent"
	ConfigAcceptKey         = "accept"
	ConfigAcceptLanguageKey = "accept_language"
	ConfigCacheControlKey   = "cache_control"
)

var headerKeys = []struct {
	key    string
	header string
}{
	{key: ConfigUserAgentKey, header: "User-Agent"},
	{key: ConfigAcceptKey, header: "Accept"},
	{key: ConfigAcceptLanguageKey, header: "Accept-Language"},
	{key: ConfigCacheControlKey, header: "Cache-Control"},
}

// Headers builds the common request headers from a target config (skips empty values).
func Headers(t Target) map[string]string {
	headers := make(map[string]string, len(headerKeys))
	for _, hk := range headerKeys {
		if v := ConfigString(t, hk.key, ""); v != "" {
			headers[hk.header] = v
		}
	}
	return headers
}
