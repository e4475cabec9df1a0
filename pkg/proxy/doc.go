// Package proxy forwards HTTP exchanges to one upstream LLM server
// without altering them.
//
// # Architecture
//
//   - Upstream: the pooled HTTP/1.1 client. Stream issues one request and
//     delivers the response as an EventStream: the head, then body parts
//     in arrival order, produced by one goroutine per exchange.
//   - Forwarder: the http.Handler. It records the exchange with a
//     capture.Recorder, frames the bodies for an Inspector and relays the
//     response in one of two modes.
//   - Inspector: receives decoded frames. FrameLogger logs a summary line
//     per frame at debug level.
//
// # Relay Modes
//
// Chunked upstream responses are streamed: every body part is written and
// flushed as soon as it arrives, so clients see tokens with the same
// pacing as the upstream produced them. All other responses are buffered
// and written once with an exact Content-Length.
//
// # Transparency
//
// Method, path, query, headers and body reach the upstream as the client
// sent them, except for Accept-Encoding, which is dropped so response
// bytes arrive uncompressed and can be framed. The capture records the
// incoming headers unchanged. Hop-by-hop response headers are left to
// net/http.
//
// # Errors
//
// Failures before the response head reached the client are answered with
// a JSON body:
//
//	{"error": {"message": "upstream http://localhost:11434 unavailable: ...", "type": "upstream_unavailable"}}
//
// Later failures end the response; the capture stays incomplete. Frames
// that cannot be interpreted are protocol violations: logged and counted,
// never fatal.
//
// # Basic Usage
//
//	up, err := proxy.NewUpstream(proxy.UpstreamConfig{BaseURL: "http://localhost:11434"}, logger)
//	if err != nil {
//	    return err
//	}
//	fwd := proxy.NewForwarder(proxy.ForwarderConfig{
//	    Upstream:  up,
//	    Sink:      persister,
//	    Inspector: proxy.NewFrameLogger(logger),
//	    Metrics:   collector,
//	    Logger:    logger,
//	})
//	http.ListenAndServe("127.0.0.1:8080", fwd)
package proxy
