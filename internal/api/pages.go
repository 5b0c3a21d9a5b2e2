package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"badgeup.io/relay/internal/protocol"
)

type page struct {
	Data  []json.RawMessage `json:"data"`
	Pages *struct {
		Next *string `json:"next"`
	} `json:"pages"`
}

func (p page) next() string {
	if p.Pages == nil || p.Pages.Next == nil {
		return ""
	}
	return *p.Pages.Next
}

// FetchAll follows a cursor-paginated listing from path until the remote stops
// returning a next cursor, and returns every record in page order. Any failed
// page aborts the whole fetch: the result is either complete or nil.
//
// schema validates each page body; nil uses the generic page shape.
func FetchAll[T any](ctx context.Context, c *Client, path string, schema *jsonschema.Schema) ([]T, error) {
	if schema == nil {
		schema = pageSchema
	}
	target := c.endpoint(path)
	seen := map[string]bool{}
	var out []T

	for n := 1; ; n++ {
		if n > c.cfg.MaxPages {
			return nil, protocol.Errorf(protocol.ErrMalformedValue, "pages.next", "more than %d pages", c.cfg.MaxPages)
		}
		seen[target] = true

		b, err := c.do(ctx, "GET", target, nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		if err := validateDoc(schema, b); err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		var p page
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("page %d: %w", n, protocol.Wrap(protocol.ErrMalformedValue, "body", err))
		}
		for i, raw := range p.Data {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("page %d: %w", n, protocol.Wrap(protocol.ErrMalformedValue, fmt.Sprintf("data[%d]", i), err))
			}
			out = append(out, v)
		}

		cursor := p.next()
		if cursor == "" {
			c.printf("fetched %s pages=%d records=%d", path, n, len(out))
			return out, nil
		}
		target, err = c.resolve(cursor)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		if seen[target] {
			return nil, protocol.Errorf(protocol.ErrMalformedValue, "pages.next", "cursor loop at %s", target)
		}
	}
}
