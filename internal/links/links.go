// Package links builds externally resolvable URLs for emails.
package links

import (
	"net/url"
	"strings"
)

// Paths the web layer serves. Only the login path is resolved by this
// module; the others are destinations embedded in links.
const (
	LoginPath    = "/login"
	ShiftsPath   = "/shifts"
	SchedulePath = "/my-schedule"
	SignupsPath  = "/admin/signups"
)

// Builder joins paths onto the public base URL of the site.
type Builder struct {
	base *url.URL
}

// New parses baseURL (e.g. "https://volunteer.mecws.org").
func New(baseURL string) (*Builder, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	return &Builder{base: u}, nil
}

// LoginURL returns the magic-link URL for token. When next is non-empty the
// web layer redirects there after a successful redemption.
func (b *Builder) LoginURL(token, next string) string {
	u := *b.base
	u.Path = u.Path + LoginPath + "/" + url.PathEscape(token)
	if next != "" {
		u.RawQuery = url.Values{"next": {next}}.Encode()
	}
	return u.String()
}

// URL returns an absolute URL for a site path.
func (b *Builder) URL(path string) string {
	u := *b.base
	u.Path = u.Path + path
	return u.String()
}

// SafeNext accepts only site-relative redirect targets so a crafted link
// cannot bounce a freshly authenticated user to another host.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}
