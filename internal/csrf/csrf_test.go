package csrf

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetToken(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		want   string
		found  bool
	}{
		{
			name:   "meta in head",
			markup: `<html><head><meta charset="utf-8"><meta name="csrf-token" content="abc123"></head><body></body></html>`,
			want:   "abc123",
			found:  true,
		},
		{
			name:   "self closing and mixed case",
			markup: `<head><META NAME="CSRF-Token" CONTENT="xyz" /></head>`,
			want:   "xyz",
			found:  true,
		},
		{
			name:   "no token",
			markup: `<html><head><meta name="description" content="portal"></head></html>`,
		},
		{
			name:   "empty content",
			markup: `<meta name="csrf-token" content="">`,
		},
		{
			name:   "empty document",
			markup: ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GetToken(strings.NewReader(tt.markup))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithToken_NoToken(t *testing.T) {
	opts := RequestOptions{
		Method: http.MethodPost,
		URL:    "/api/metadata",
		Header: http.Header{"Content-Type": {"application/json"}},
	}

	got := WithToken(opts, "")
	assert.Equal(t, opts, got)
	assert.Empty(t, got.Header.Values(HeaderName))
}

func TestWithToken_AddsExactlyOneHeader(t *testing.T) {
	opts := RequestOptions{
		Method: http.MethodPut,
		Header: http.Header{HeaderName: {"stale", "older"}},
	}

	got := WithToken(opts, "fresh")
	assert.Equal(t, []string{"fresh"}, got.Header.Values(HeaderName))
	// input is not mutated
	assert.Equal(t, []string{"stale", "older"}, opts.Header.Values(HeaderName))
}

func TestWithToken_NilHeader(t *testing.T) {
	got := WithToken(RequestOptions{Method: http.MethodDelete}, "tok")
	require.NotNil(t, got.Header)
	assert.Equal(t, []string{"tok"}, got.Header.Values(HeaderName))
	assert.Len(t, got.Header, 1)
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("a", "a"))
	assert.False(t, Equal("a", "b"))
	assert.False(t, Equal("", ""))
}

func TestMutating(t *testing.T) {
	for _, m := range []string{"POST", "PUT", "PATCH", "DELETE"} {
		assert.True(t, Mutating(m), m)
	}
	for _, m := range []string{"GET", "HEAD", "OPTIONS"} {
		assert.False(t, Mutating(m), m)
	}
}
