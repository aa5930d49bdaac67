package revalidate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// Revalidator invalidates a cached frontend page.
type Revalidator interface {
	Revalidate(ctx context.Context, path string) error
}

type Client struct {
	endpoint string
	secret   string
	http     *http.Client
}

// NewClient returns a client posting to endpoint. With an empty endpoint
// every call is a no-op.
func NewClient(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Revalidate(ctx context.Context, path string) error {
	if c.endpoint == "" {
		return nil
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return errors.Wrap(err, "parse revalidate url")
	}
	q := u.Query()
	q.Set("path", path)
	q.Set("secret", c.secret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "build revalidate request")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "revalidate %s", path)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("revalidate %s: unexpected status %d", path, res.StatusCode)
	}
	return nil
}

// All revalidates every path and returns the first error.
func All(ctx context.Context, r Revalidator, paths ...string) error {
	var first error
	for _, p := range paths {
		if err := r.Revalidate(ctx, p); err != nil && first == nil {
			first = err
		}
	}
	return first
}
