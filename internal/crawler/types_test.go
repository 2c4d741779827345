package crawler

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Document {
	t.Helper()
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.UseNumber()
	var doc Document
	require.NoError(t, dec.Decode(&doc))
	return doc
}

func TestMergePrecedence(t *testing.T) {
	t.Parallel()

	got := Merge(Document{"a": 1, "b": 2}, Document{"b": 3, "c": 4}, "x")
	assert.Equal(t, Document{"a": 1, "b": 3, "c": 4, "domain": "x"}, got)
}

func TestMergeDomainAlwaysWins(t *testing.T) {
	t.Parallel()

	detail := Document{"domain": "detail"}
	meta := Document{"domain": "meta"}
	got := Merge(detail, meta, "source.example.com")
	assert.Equal(t, "source.example.com", got["domain"])
	assert.Equal(t, "detail", detail["domain"], "inputs must not be mutated")
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	body := decode(t, `{"total_count": 2, "requests": [{"id": 12, "title": "a"}, {"id": "ab-3"}]}`)
	page, err := ParseListing(body)
	require.NoError(t, err)

	assert.Equal(t, int64(2), page.TotalCount)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "12", page.Entries[0].ID)
	assert.Equal(t, "a", page.Entries[0].Metadata["title"])
	assert.Equal(t, "ab-3", page.Entries[1].ID)
}

func TestParseListingEmptyRequests(t *testing.T) {
	t.Parallel()

	page, err := ParseListing(decode(t, `{"total_count": 0, "requests": []}`))
	require.NoError(t, err)
	assert.Empty(t, page.Entries)

	page, err = ParseListing(decode(t, `{"total_count": 5}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	assert.Empty(t, page.Entries)
}

func TestParseListingMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing total": `{"requests": []}`,
		"bad requests":  `{"total_count": 1, "requests": "nope"}`,
		"bad entry":     `{"total_count": 1, "requests": [1]}`,
		"missing id":    `{"total_count": 1, "requests": [{"title": "x"}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseListing(decode(t, raw))
			require.ErrorIs(t, err, ErrMalformedListing)
		})
	}
}

func TestParseSortOrder(t *testing.T) {
	t.Parallel()

	order, err := ParseSortOrder("")
	require.NoError(t, err)
	assert.Equal(t, SortDesc, order)

	order, err = ParseSortOrder("asc")
	require.NoError(t, err)
	assert.Equal(t, SortAsc, order)

	_, err = ParseSortOrder("sideways")
	require.Error(t, err)
}

func TestEndpoints(t *testing.T) {
	t.Parallel()

	e := Endpoints{}
	assert.Equal(t, "https://a.nextrequest.com/client/requests", e.Listing("a.nextrequest.com"))
	assert.Equal(t, "https://a.nextrequest.com/client/requests/21-4", e.Detail("a.nextrequest.com", "21-4"))

	e = Endpoints{Scheme: "http"}
	assert.Equal(t, "http://127.0.0.1:8080/client/requests/7", e.Detail("127.0.0.1:8080", "7"))
}

func TestListingParams(t *testing.T) {
	t.Parallel()

	v := ListingParams(3, 0, "")
	assert.Equal(t, "page_number=3&page_size=100&sort_field=created_at&sort_order=desc", v.Encode())
}
