// Package tracking rewrites campaign HTML for engagement measurement and
// serves the open/click callback endpoints.
package tracking

import (
	"net/url"
	"regexp"
	"strings"
)

// href pattern for absolute http(s) links; relative links, anchors and
// mailto: are left untouched
var linkPattern = regexp.MustCompile(`href=(["'])(https?://[^"']+)(["'])`)

var bodyClosePattern = regexp.MustCompile(`(?i)</body>`)

// Inject rewrites every absolute link in html to route through the click
// redirect and appends a 1x1 open pixel. token ties the callbacks back to
// one (campaign, recipient) message.
func Inject(html, token, baseURL string) string {
	base := strings.TrimRight(baseURL, "/")

	out := linkPattern.ReplaceAllStringFunc(html, func(match string) string {
		parts := linkPattern.FindStringSubmatch(match)
		quote, target := parts[1], parts[2]
		redirect := base + "/t/click/" + token + "?url=" + url.QueryEscape(target)
		return "href=" + quote + redirect + quote
	})

	pixel := `<img src="` + base + `/t/open/` + token + `" width="1" height="1" alt="" style="display:none">`

	if loc := bodyClosePattern.FindStringIndex(out); loc != nil {
		return out[:loc[0]] + pixel + out[loc[0]:]
	}
	return out + pixel
}
