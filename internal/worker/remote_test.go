package worker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakeRemote serves a NextRequest-style listing and detail API over ids
// 1..total.
type fakeRemote struct {
	t          *testing.T
	srv        *httptest.Server
	total      int
	failDetail map[int]bool
	failPage   map[int]bool

	mu            sync.Mutex
	detailHits    map[int]int
	listingOrders []string
	listingPages  []int
}

func newFakeRemote(t *testing.T, total int) *fakeRemote {
	t.Helper()
	r := &fakeRemote{
		t:          t,
		total:      total,
		failDetail: map[int]bool{},
		failPage:   map[int]bool{},
		detailHits: map[int]int{},
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

// source returns host:port, used as the subdomain under test.
func (r *fakeRemote) source() string {
	u, err := url.Parse(r.srv.URL)
	if err != nil {
		r.t.Fatal(err)
	}
	return u.Host
}

func (r *fakeRemote) detailCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.detailHits {
		n += c
	}
	return n
}

// pagesRequested returns the page_number of every listing call, in order.
func (r *fakeRemote) pagesRequested() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.listingPages...)
}

func (r *fakeRemote) serve(w http.ResponseWriter, req *http.Request) {
	const prefix = "/client/requests"
	if !strings.HasPrefix(req.URL.Path, prefix) {
		http.NotFound(w, req)
		return
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(req.URL.Path, prefix), "/")
	if rest == "" {
		r.serveListing(w, req.URL.Query())
		return
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		http.NotFound(w, req)
		return
	}
	r.serveDetail(w, id)
}

func (r *fakeRemote) serveListing(w http.ResponseWriter, q url.Values) {
	page, _ := strconv.Atoi(q.Get("page_number"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("page_size"))
	if size < 1 {
		size = 25
	}
	order := q.Get("sort_order")

	r.mu.Lock()
	r.listingOrders = append(r.listingOrders, order)
	r.listingPages = append(r.listingPages, page)
	r.mu.Unlock()

	if r.failPage[page] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ids := make([]int, r.total)
	for i := range ids {
		ids[i] = i + 1
	}
	if order != "asc" {
		sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	}

	entries := []map[string]any{}
	start := (page - 1) * size
	for i := start; i < start+size && i < len(ids); i++ {
		entries = append(entries, map[string]any{
			"id":    ids[i],
			"title": "listing-" + strconv.Itoa(ids[i]),
			"state": "Open",
		})
	}
	writeJSON(w, map[string]any{"total_count": r.total, "requests": entries})
}

func (r *fakeRemote) serveDetail(w http.ResponseWriter, id int) {
	r.mu.Lock()
	r.detailHits[id]++
	r.mu.Unlock()

	if id < 1 || id > r.total {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"error": "not found"})
		return
	}
	if r.failDetail[id] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"id":          id,
		"title":       "detail-" + strconv.Itoa(id),
		"description": "request body " + strconv.Itoa(id),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
