package pipeline

import (
	"bytes"
	"compress/gzip"
	"io"
)

// looksLikeSSE reports whether chunk carries Server-Sent Events framing.
// The streaming converter only ever runs on chunks this returns true for;
// anything else passes through untouched, so a false negative here is safe
// (byte-identical passthrough) while a false positive would feed garbage
// into a JSON parser further down the line.
func looksLikeSSE(chunk []byte) bool {
	return bytes.Contains(chunk, []byte("data: ")) ||
		bytes.Contains(chunk, []byte("event: ")) ||
		bytes.Contains(chunk, []byte("[DONE]"))
}

// decompressIfGzip undoes upstream gzip Content-Encoding before the chunk
// reaches SSE framing detection or accounting. Non-gzip chunks pass through
// unchanged.
func decompressIfGzip(chunk []byte, contentEncoding string) ([]byte, error) {
	if contentEncoding != "gzip" {
		return chunk, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(chunk))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
