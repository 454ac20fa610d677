package daemon

// RollingBuffer keeps the tail of the agent's raw output stream so it
// can be re-injected into the next prompt after a context compaction.
// Capacity is token-approximate at four characters per token.
type RollingBuffer struct {
	maxChars int
	chunks   []string
	total    int
}

// NewRollingBuffer sizes the buffer for maxTokens worth of text.
func NewRollingBuffer(maxTokens int) *RollingBuffer {
	return &RollingBuffer{maxChars: maxTokens * 4}
}

// Append adds a chunk, evicting the oldest chunks once over capacity.
func (b *RollingBuffer) Append(text string) {
	if text == "" {
		return
	}
	b.chunks = append(b.chunks, text)
	b.total += len(text)
	for b.total > b.maxChars && len(b.chunks) > 0 {
		b.total -= len(b.chunks[0])
		b.chunks = b.chunks[1:]
	}
}

// Snapshot returns the buffered text in arrival order.
func (b *RollingBuffer) Snapshot() string {
	var out []byte
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return string(out)
}

// Len is the total buffered character count.
func (b *RollingBuffer) Len() int { return b.total }
