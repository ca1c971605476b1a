package h2t

// Listener is the application-facing callback surface of §6: it receives
// headers, messages, and a single terminal status-plus-trailers, always in
// that relative order and always serialized per Stream.
type Listener interface {
	// OnHeaders delivers the peer's response headers. Skipped entirely for
	// a trailers-only response.
	OnHeaders(headers Metadata)

	// OnMessage delivers one complete application message, in the order it
	// was received on the wire.
	OnMessage(payload []byte)

	// OnClose is the last callback this Stream will ever make.
	OnClose(status *Status, trailers Metadata)
}
