// Package storage persists captures.
//
// A FileStore writes one JSON document per capture into a directory,
// optionally with raw request and response body dumps next to it. An
// Index records every stored capture in SQLite so captures can be listed,
// found by ID and pruned without reading the documents. The Persister
// feeds both from a background goroutine so the forwarding path never
// waits on the disk.
//
// File names:
//
//	ReplayableRequest-20260114T093005.123456789-1f0c2a9b.json
//	llmtap-api_chat-req-20260114T093005.123456789-1f0c2a9b.json
//	llmtap-api_chat-rsp-20260114T093005.123456789-1f0c2a9b.json
package storage
