package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var urlRegex = regexp.MustCompile(`(?i)(?:https?|tg)://[^\s]+|(?:t|telegram)\.me/[^\s]+`)

// ExtractURLs returns every link-shaped token in content, in order of appearance.
func ExtractURLs(content string) []string {
	return urlRegex.FindAllString(content, -1)
}

// Hostname parses raw, adding a scheme when it is missing, and returns the lowercased host.
func Hostname(raw string) (string, bool) {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	return host, host != ""
}

// UnicodeHost decodes punycode labels. Hosts without them come back unchanged.
func UnicodeHost(host string) string {
	if !strings.Contains(host, "xn--") {
		return host
	}
	decoded, err := idna.ToUnicode(host)
	if err != nil {
		return host
	}
	return decoded
}

// DecodedHosts returns the Unicode form of every punycode host linked from content.
func DecodedHosts(content string) []string {
	var hosts []string
	seen := map[string]struct{}{}
	for _, raw := range ExtractURLs(content) {
		host, ok := Hostname(raw)
		if !ok {
			continue
		}
		decoded := UnicodeHost(host)
		if decoded == host {
			continue
		}
		if _, dup := seen[decoded]; dup {
			continue
		}
		seen[decoded] = struct{}{}
		hosts = append(hosts, decoded)
	}
	return hosts
}
