// Package stream owns the persistent WebSocket session to the feed.
//
// It contains three tightly coupled pieces:
//   - Client: a single authenticated WebSocket connection with
//     ping/pong keepalive and stale detection.
//   - Manager: the session owner. Reconnects with capped exponential
//     backoff, replays the desired subscription set after every
//     reconnect, and only then marks the session READY.
//   - The command correlator: outbound commands carry a unique id and
//     block until the matching response arrives or a timeout signals
//     the caller to use the REST fallback.
package stream
