package crawler

import (
	"net/url"
	"strconv"
)

// DefaultPageSize is the number of entries requested per listing page.
const DefaultPageSize = 100

// Endpoints builds the listing and detail URLs for a source.
type Endpoints struct {
	Scheme string
}

// Listing returns the listing endpoint for source.
func (e Endpoints) Listing(source string) string {
	return e.scheme() + "://" + source + "/client/requests"
}

// Detail returns the canonical detail URL for an item id. It doubles as the
// item's dedup key.
func (e Endpoints) Detail(source, id string) string {
	return e.Listing(source) + "/" + url.PathEscape(id)
}

func (e Endpoints) scheme() string {
	if e.Scheme == "" {
		return "https"
	}
	return e.Scheme
}

// ListingParams returns the query parameters for one listing page.
func ListingParams(page, pageSize int, order SortOrder) url.Values {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if order == "" {
		order = SortDesc
	}
	v := url.Values{}
	v.Set("sort_field", "created_at")
	v.Set("page_number", strconv.Itoa(page))
	v.Set("page_size", strconv.Itoa(pageSize))
	v.Set("sort_order", string(order))
	return v
}
