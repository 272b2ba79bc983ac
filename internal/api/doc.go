// Package api is the REST fallback interface to the feed.
//
// It is used when the stream is not ready or a correlated query times
// out: market snapshot fetches for the cache's bottom tier and narrow
// catalog lookups (title, tags) for topic filtering.
package api
