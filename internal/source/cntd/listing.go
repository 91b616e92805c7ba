package cntd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

type listingPage struct {
	Data []struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// ListingURL is the search endpoint for one page of a category.
func (c *Client) ListingURL(category string, page int) string {
	q := url.Values{}
	q.Set("order_by", "registration_date:desc")
	q.Set("category", category)
	q.Set("page", strconv.Itoa(page))
	if c.cfg.Date != "" {
		q.Set("date", c.cfg.Date)
	}
	return c.endpoint("/api/search", q)
}

// FetchPage returns the identifiers listed on page. A response without data is
// an empty page.
func (c *Client) FetchPage(ctx context.Context, category string, page int) ([]string, error) {
	const op = "cntd.listing"
	pageID := category + "/" + strconv.Itoa(page)
	body, err := c.get(ctx, op, pageID, c.ListingURL(category, page), "application/json")
	if err != nil {
		return nil, err
	}
	var payload listingPage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, malformed(op, pageID, err)
	}
	ids := make([]string, 0, len(payload.Data))
	for _, item := range payload.Data {
		if id := rawID(item.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// rawID renders a JSON number or string identifier as text.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}
