package executor

import "bytes"

// maxCapture bounds captured stdout/stderr per run.
const maxCapture = 1 << 20

// errTail bounds the stderr excerpt carried in error messages.
const errTail = 4096

// limitedBuffer keeps the first n bytes written and silently drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	n   int
}

func newLimitedBuffer(n int) *limitedBuffer { return &limitedBuffer{n: n} }

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.n - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }

func tail(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
