package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// SortOrder is the created_at ordering requested from the listing endpoint.
type SortOrder string

// Supported listing orders.
const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// ParseSortOrder validates a configured sort order, defaulting to desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(s) {
	case "", SortDesc:
		return SortDesc, nil
	case SortAsc:
		return SortAsc, nil
	default:
		return "", fmt.Errorf("unsupported sort order %q", s)
	}
}

// Document is an opaque JSON object returned by the remote API.
type Document = map[string]any

// ListingEntry is one element of a listing page's requests array.
type ListingEntry struct {
	ID       string
	Metadata Document
}

// ListingPage is a decoded listing response.
type ListingPage struct {
	TotalCount int64
	Entries    []ListingEntry
}

// ErrMalformedListing reports a listing body missing required fields.
var ErrMalformedListing = errors.New("malformed listing page")

// ParseListing extracts the total count and the ordered entries from a
// decoded listing body.
func ParseListing(body Document) (ListingPage, error) {
	total, err := toInt64(body["total_count"])
	if err != nil {
		return ListingPage{}, fmt.Errorf("%w: total_count: %v", ErrMalformedListing, err)
	}

	raw, ok := body["requests"]
	if !ok || raw == nil {
		return ListingPage{TotalCount: total}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return ListingPage{}, fmt.Errorf("%w: requests is %T", ErrMalformedListing, raw)
	}

	page := ListingPage{TotalCount: total, Entries: make([]ListingEntry, 0, len(list))}
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return ListingPage{}, fmt.Errorf("%w: requests[%d] is %T", ErrMalformedListing, i, item)
		}
		id, err := idString(entry["id"])
		if err != nil {
			return ListingPage{}, fmt.Errorf("%w: requests[%d].id: %v", ErrMalformedListing, i, err)
		}
		page.Entries = append(page.Entries, ListingEntry{ID: id, Metadata: entry})
	}
	return page, nil
}

// Merge combines a detail document with its listing metadata. Metadata
// overrides detail on key conflicts and domain always wins.
func Merge(detail, metadata Document, domain string) Document {
	out := make(Document, len(detail)+len(metadata)+1)
	for k, v := range detail {
		out[k] = v
	}
	for k, v := range metadata {
		out[k] = v
	}
	out["domain"] = domain
	return out
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", errors.New("empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case nil:
		return "", errors.New("missing")
	default:
		return "", fmt.Errorf("unexpected type %T", v)
	}
}
