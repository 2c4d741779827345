// Package fetcher resolves listing ids into detail documents: DetailFetcher
// handles one id with dedup, Pool fans a page of ids out under a fixed
// concurrency limit.
package fetcher
