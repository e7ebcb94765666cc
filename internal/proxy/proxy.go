// Package proxy forwards read-only requests to the support platform
// for endpoints the cache does not model.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/matheus3301/deskcache/internal/remote"
)

// PathParam is the query parameter naming the remote path. It is never
// forwarded.
const PathParam = "path"

// ErrInvalidPath is returned for a path that could escape the API root.
var ErrInvalidPath = errors.New("invalid proxy path")

// Getter issues a raw GET.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (*remote.RawResponse, error)
}

// Response is the remote answer, unmodified.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Gateway validates and forwards proxy requests.
type Gateway struct {
	remote Getter
}

// New creates a gateway.
func New(g Getter) *Gateway {
	return &Gateway{remote: g}
}

// Get forwards a GET for path with every param except PathParam. Remote
// 4xx answers are returned as a Response, not an error.
func (g *Gateway) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	fwd := url.Values{}
	for k, vs := range params {
		if k == PathParam {
			continue
		}
		fwd[k] = append([]string(nil), vs...)
	}

	raw, err := g.remote.Get(ctx, path, fwd)
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) && rerr.StatusCode >= 400 && rerr.StatusCode < 500 {
			return &Response{StatusCode: rerr.StatusCode, ContentType: "application/json", Body: rerr.Body}, nil
		}
		return nil, err
	}
	return &Response{StatusCode: raw.StatusCode, ContentType: raw.ContentType, Body: raw.Body}, nil
}

// ValidatePath rejects paths that are empty, relative, absolute URLs,
// contain dot segments (plain or percent-encoded), backslashes, empty
// segments, query or fragment markers, or control characters.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: must start with /", ErrInvalidPath)
	}

	// Undo nested encodings so %252e%252e is caught as well.
	decoded := path
	for i := 0; i < 3; i++ {
		next, err := url.PathUnescape(decoded)
		if err != nil {
			return fmt.Errorf("%w: bad escape", ErrInvalidPath)
		}
		if next == decoded {
			break
		}
		decoded = next
	}

	for _, p := range []string{path, decoded} {
		if strings.ContainsAny(p, `\?#`) {
			return fmt.Errorf("%w: illegal character", ErrInvalidPath)
		}
		if strings.Contains(p, "//") || strings.Contains(p, "://") {
			return fmt.Errorf("%w: absolute or empty segment", ErrInvalidPath)
		}
		for _, r := range p {
			if r < 0x20 || r == 0x7f {
				return fmt.Errorf("%w: control character", ErrInvalidPath)
			}
		}
		for _, seg := range strings.Split(p, "/") {
			if seg == ".." || seg == "." {
				return fmt.Errorf("%w: dot segment", ErrInvalidPath)
			}
		}
	}
	return nil
}
