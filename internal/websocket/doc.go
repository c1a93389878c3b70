// Package websocket pushes conversion progress to connected browsers.
//
// A Hub owns the set of clients and fans messages out to them from a single
// goroutine. Every frame is a JSON Message envelope:
//
//	{"type":"progress","data":{...},"timestamp":"...","trace_id":"..."}
//
// Types are connection (sent once on register), progress (file stage
// updates), batch (batch run summaries), session (HTTP session changes)
// and error (failed files with reason and hints). Clients whose buffer
// fills up are disconnected instead of slowing the hub down.
package websocket
