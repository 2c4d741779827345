// Package store defines the document-store contract shared by crawl workers:
// a sources collection keyed by subdomain and an items collection keyed by
// canonical URL. Implementations live under internal/storage; this package
// must not import database drivers or concrete clients.
package store
