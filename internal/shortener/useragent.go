package shortener

import (
	"strings"

	"github.com/mssola/useragent"
)

// parseUserAgent extracts browser and platform names. When the header cannot
// be parsed the raw value is kept as the browser.
func parseUserAgent(raw string) (browser, platform string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}

	ua := useragent.New(raw)
	name, _ := ua.Browser()
	if name == "" {
		return raw, ""
	}
	return name, ua.OS()
}
