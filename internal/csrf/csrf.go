// Package csrf issues and checks anti-forgery tokens for cookie-authenticated
// requests and helps clients carry a page's token on their mutating calls.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

const (
	// HeaderName carries the token on mutating requests
	HeaderName = "X-CSRF-Token"
	// FormField carries the token on HTML form posts
	FormField = "csrf_token"
	// CookieName holds the token issued with the page
	CookieName = "ngdi_csrf"
	// MetaName is the <meta> tag name pages embed the token under
	MetaName = "csrf-token"

	tokenBytes = 32
)

// NewToken returns a random URL-safe token
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Equal compares two tokens in constant time; empty tokens never match
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GetToken reads the token embedded in rendered page markup
func GetToken(markup io.Reader) (string, bool) {
	z := html.NewTokenizer(markup)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var name, content string
			for _, attr := range tok.Attr {
				switch strings.ToLower(attr.Key) {
				case "name":
					name = attr.Val
				case "content":
					content = attr.Val
				}
			}
			if strings.EqualFold(name, MetaName) && content != "" {
				return content, true
			}
		}
	}
}

// RequestOptions describes an outgoing request before it is built
type RequestOptions struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// WithToken returns a copy of opts carrying token in exactly one X-CSRF-Token header.
// An empty token returns opts unchanged; the request then proceeds without the header.
func WithToken(opts RequestOptions, token string) RequestOptions {
	if token == "" {
		return opts
	}

	out := opts
	out.Header = opts.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	out.Header.Set(HeaderName, token)
	return out
}

// Mutating reports whether method changes server state and must carry a token
func Mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
