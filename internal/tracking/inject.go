package tracking

import (
	"fmt"
	"net/url"
	"strings"
)

// Links builds tracking URLs for outgoing email bodies. One instance is
// shared by the dispatch engine; the base URL points at the tracking server.
type Links struct {
	baseURL string
}

// NewLinks creates a link builder rooted at baseURL.
func NewLinks(baseURL string) *Links {
	return &Links{baseURL: strings.TrimRight(baseURL, "/")}
}

// PixelURL returns the open tracking pixel URL for a recipient.
func (l *Links) PixelURL(campaignID, recipientID string) string {
	return fmt.Sprintf("%s/track/open/%s/%s/pixel.gif", l.baseURL, campaignID, recipientID)
}

// ClickURL returns a tracked redirect URL wrapping target.
func (l *Links) ClickURL(campaignID, recipientID, target string) string {
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s", l.baseURL, campaignID, recipientID, url.QueryEscape(target))
}

// InjectTracking rewrites an HTML body for a recipient: every http(s) link
// becomes a tracked redirect and an open pixel is placed before </body>.
// Bodies without a closing body tag get the pixel appended at the end.
func (l *Links) InjectTracking(html, campaignID, recipientID string) string {
	html = l.replaceLinks(html, campaignID, recipientID)

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" />`,
		l.PixelURL(campaignID, recipientID))
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

// replaceLinks rewrites href attributes to tracked click URLs. Plain string
// scanning, not HTML parsing; links already pointing at the tracker are left
// alone.
func (l *Links) replaceLinks(html, campaignID, recipientID string) string {
	result := html
	from := 0

	for {
		idx := strings.Index(result[from:], `href="http`)
		if idx == -1 {
			break
		}
		start := from + idx + 6 // skip href="

		end := strings.Index(result[start:], `"`)
		if end == -1 {
			break
		}

		original := result[start : start+end]
		if strings.Contains(original, "/track/") {
			from = start + end
			continue
		}

		tracked := l.ClickURL(campaignID, recipientID, original)
		result = result[:start] + tracked + result[start+end:]
		from = start + len(tracked)
	}

	return result
}
