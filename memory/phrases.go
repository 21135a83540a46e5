package memory

// phraseRing is a fixed-capacity FIFO; pushing into a full ring drops the
// oldest phrase.
type phraseRing struct {
	buf   []string
	start int
	n     int
}

func newPhraseRing(capacity int) *phraseRing {
	return &phraseRing{buf: make([]string, capacity)}
}

func (r *phraseRing) push(s string) {
	if len(r.buf) == 0 {
		return
	}
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *phraseRing) last(k int) []string {
	if k > r.n {
		k = r.n
	}
	if k <= 0 {
		return nil
	}
	out := make([]string, 0, k)
	for i := r.n - k; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
