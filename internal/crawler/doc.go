// Package crawler holds the data shapes shared by the NextRequest crawl
// pipeline: listing pages, detail documents, endpoint builders and the small
// interfaces (clock, token and digest generators) the workers depend on.
package crawler
