// Package router demultiplexes inbound feed frames by type.
//
// Trade frames go to both the market cache and the ingest pipeline's
// bounded buffer; ticker and depth frames update the cache only.
// Unrecognized frame types are logged and dropped, never fatal.
// Command responses never reach the router: the stream manager's
// correlator consumes them at the session boundary.
package router
