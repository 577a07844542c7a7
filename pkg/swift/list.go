package swift

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ListOptions narrows a listing.
type ListOptions struct {
	Prefix string
	// Limit caps the total number of names. Zero lists everything.
	Limit int
	// Marker starts the listing after this name.
	Marker string
	// EndMarker stops the listing before this name.
	EndMarker string
	// PageSize is the per-request limit. Zero means Limit, or the store's default.
	PageSize int
}

// ListObjectNames returns object names starting with prefix in the store's
// order, following markers until a page comes back empty or limit names were
// collected.
func (c *Client) ListObjectNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	return c.List(ctx, ListOptions{Prefix: prefix, Limit: limit})
}

// List is ListObjectNames with full control over markers and page size.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]string, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 && opts.Limit > 0 {
		pageSize = opts.Limit
	}

	var names []string
	marker := opts.Marker
	for {
		page, err := c.listPage(ctx, opts.Prefix, pageSize, marker, opts.EndMarker)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return names, nil
		}

		for _, name := range page {
			names = append(names, name)
			marker = name
			if opts.Limit > 0 && len(names) >= opts.Limit {
				return names, nil
			}
		}
	}
}

func (c *Client) listPage(ctx context.Context, prefix string, limit int, marker, endMarker string) ([]string, error) {
	query := url.Values{}
	if prefix != "" {
		query.Set("prefix", prefix)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if marker != "" {
		query.Set("marker", marker)
	}
	if endMarker != "" {
		query.Set("end_marker", endMarker)
	}

	resp, err := c.do(ctx, &request{op: "list", method: http.MethodGet, query: query})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNoContent || len(resp.body) == 0 {
		return nil, nil
	}

	names := strings.Split(string(resp.body), "\n")
	if names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	return names, nil
}
