package h2t

import (
	"bytes"
	"sort"

	"golang.org/x/net/http2/hpack"
)

// requestMeta is the caller-supplied piece of the outbound header block: the
// things a real RPC stack's call layer would set (content-type, user-agent,
// ...) that spec.md scopes to an external "Header Builder" collaborator.
type requestMeta struct {
	Scheme      string
	ContentType string
	UserAgent   string
	TE          string
}

func defaultRequestMeta() requestMeta {
	return requestMeta{
		Scheme:      "http",
		ContentType: "application/grpc",
		UserAgent:   "h2t/1.0",
		TE:          "trailers",
	}
}

// headerBuilder is the Header Builder of §6: given a method name, the
// transport's authority, and caller-supplied metadata, it produces the
// outbound HEADERS block (pseudo-headers first, per RFC 7540 §8.1.2.1).
type headerBuilder struct {
	meta requestMeta
}

func newHeaderBuilder(meta requestMeta) *headerBuilder {
	return &headerBuilder{meta: meta}
}

func (b *headerBuilder) Build(method, authority string, reqHeaders Metadata) []byte {
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)

	write := func(name, value string) {
		_ = enc.WriteField(hpack.HeaderField{Name: name, Value: value})
	}

	write(":method", "POST")
	write(":scheme", b.meta.Scheme)
	write(":path", "/"+method)
	write(":authority", authority)
	write("content-type", b.meta.ContentType)
	write("te", b.meta.TE)
	write("user-agent", b.meta.UserAgent)

	keys := make([]string, 0, len(reqHeaders))
	for k := range reqHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range reqHeaders[k] {
			write(k, v)
		}
	}

	return buf.Bytes()
}

// headerConverter is the Header Converter of §6: it turns an inbound HPACK
// header block into the Metadata a Listener sees, discarding pseudo-headers.
type headerConverter struct{}

func newHeaderConverter() *headerConverter { return &headerConverter{} }

func (c *headerConverter) Convert(headerBlock []byte) Metadata {
	md := NewMetadata()

	dec := hpack.NewDecoder(4096, nil)
	dec.SetEmitFunc(func(f hpack.HeaderField) {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			return
		}
		md.Add(f.Name, f.Value)
	})

	// A truncated or malformed header block is a protocol-layer concern the
	// core can't usefully recover from per-field; best effort decode, return
	// whatever fields were emitted before the error.
	_, _ = dec.Write(headerBlock)
	_ = dec.Close()

	return md
}
