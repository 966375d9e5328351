package translate

import (
	"bufio"
	"bytes"
	"io"

	"github.com/tidwall/gjson"

	"github.com/bnema/antigravity-pool/internal/signature"
)

// streamScannerBuffer caps a single SSE line; upstream chunks can carry whole
// tool-call arguments in one event.
const streamScannerBuffer = 10 * 1024 * 1024

var dataPrefix = []byte("data:")

// TranslateStream rewrites an upstream text/event-stream on the fly. Each
// data line carrying a wrapped response is unwrapped and reshaped
// independently and forwarded immediately, so tokens reach the host in real
// time instead of being buffered. Malformed lines pass through verbatim.
func TranslateStream(col *signature.Collector, upstream io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		defer func() { _ = upstream.Close() }()

		scanner := bufio.NewScanner(upstream)
		scanner.Buffer(nil, streamScannerBuffer)
		for scanner.Scan() {
			line := scanner.Bytes()
			out := translateStreamLine(col, line)
			out = append(out, '\n')
			if _, err := pw.Write(out); err != nil {
				return
			}
		}
		pw.CloseWithError(scanner.Err())
	}()
	return pr
}

func translateStreamLine(col *signature.Collector, line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if !bytes.HasPrefix(trimmed, dataPrefix) {
		return append([]byte(nil), line...)
	}

	payload := bytes.TrimSpace(trimmed[len(dataPrefix):])
	if !gjson.ValidBytes(payload) {
		return append([]byte(nil), line...)
	}

	col.Observe(payload)

	inner := payload
	if wrapped := gjson.GetBytes(payload, "response"); wrapped.Exists() {
		inner = []byte(wrapped.Raw)
	}
	inner = reshapeThinking(inner)

	out := make([]byte, 0, len(dataPrefix)+1+len(inner))
	out = append(out, dataPrefix...)
	out = append(out, ' ')
	out = append(out, inner...)
	return out
}
