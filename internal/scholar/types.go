package scholar

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Identifier names a Google Scholar profile (the `user` query parameter).
type Identifier string

// CitationCount is the citation total as it appears in the badge message.
// It is never parsed as a number.
type CitationCount string

// Citation count values with special meaning.
const (
	DefaultCount CitationCount = "0"
	ErrorCount   CitationCount = "error"
)

// Profile URL defaults.
const (
	DefaultBaseURL  = "https://scholar.google.com/citations"
	DefaultLanguage = "zh-CN"
	DefaultTimeout  = 30 * time.Second

	// DefaultUserAgent mimics a desktop Chrome build; Scholar serves a
	// stripped page to obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// ParseIdentifier trims the raw value and reports whether anything is left.
func ParseIdentifier(raw string) (Identifier, bool) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", false
	}
	return Identifier(id), true
}

// ProfileURL builds the profile page URL for id, e.g.
// https://scholar.google.com/citations?user={id}&hl=zh-CN.
func ProfileURL(baseURL string, id Identifier, language string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if language == "" {
		language = DefaultLanguage
	}
	return baseURL + "?user=" + url.QueryEscape(string(id)) + "&hl=" + url.QueryEscape(language)
}

// BrowserHeaders returns the header set sent with every profile request.
func BrowserHeaders(userAgent string) http.Header {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "zh-CN,zh;q=0.8,en-US;q=0.5,en;q=0.3")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// FetchRequest captures everything needed to fetch a profile page.
type FetchRequest struct {
	RunID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// UpdateNotice is published after the badge document has been written.
type UpdateNotice struct {
	RunID     string        `json:"run_id"`
	ScholarID Identifier    `json:"scholar_id"`
	Message   CitationCount `json:"message"`
	URI       string        `json:"uri"`
	MirrorURI string        `json:"mirror_uri,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}
