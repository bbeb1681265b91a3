package continuation

import "strings"

// DedupConfig controls overlap detection between a checkpoint's tail and
// the start of a resumed completion.
type DedupConfig struct {
	MinOverlap          int
	MaxOverlap          int
	CaseSensitive       bool
	NormalizeWhitespace bool
}

func normalize(s string, cfg DedupConfig) string {
	if !cfg.CaseSensitive {
		s = strings.ToLower(s)
	}
	if cfg.NormalizeWhitespace {
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}

// Deduplicator strips the re-emitted overlap at the start of a resumed
// stream. It buffers incoming raw chunks (up to MaxOverlap bytes) until it
// either finds the longest checkpoint-tail suffix that matches a buffer
// prefix, ties broken toward the longest match, or gives up once the
// buffer exceeds MaxOverlap without one.
type Deduplicator struct {
	cfg      DedupConfig
	tailNorm string
	buffer   string
	resolved bool
}

// NewDeduplicator seeds the detector with the tail of the checkpoint
// content that preceded the resume.
func NewDeduplicator(cfg DedupConfig, checkpointContent string) *Deduplicator {
	if cfg.MaxOverlap <= 0 {
		cfg.MaxOverlap = 64
	}
	if cfg.MinOverlap <= 0 {
		cfg.MinOverlap = 1
	}
	tail := checkpointContent
	if len(tail) > cfg.MaxOverlap {
		tail = tail[len(tail)-cfg.MaxOverlap:]
	}
	return &Deduplicator{cfg: cfg, tailNorm: normalize(tail, cfg)}
}

// Filter consumes one raw chunk from the resumed stream and returns the
// portion, if any, that should actually be forwarded to the consumer —
// empty while still buffering, and every subsequent chunk unmodified once
// resolution has happened.
func (d *Deduplicator) Filter(chunk string) string {
	if d.resolved {
		return chunk
	}
	d.buffer += chunk

	maxTry := d.cfg.MaxOverlap
	if maxTry > len(d.tailNorm) {
		maxTry = len(d.tailNorm)
	}
	for l := maxTry; l >= d.cfg.MinOverlap; l-- {
		want := d.tailNorm[len(d.tailNorm)-l:]
		if rawLen, ok := d.rawPrefixForNormalized(want); ok {
			d.resolved = true
			out := d.buffer[rawLen:]
			d.buffer = ""
			return out
		}
	}

	if len(d.buffer) >= d.cfg.MaxOverlap {
		d.resolved = true
		out := d.buffer
		d.buffer = ""
		return out
	}
	return ""
}

// Flush releases any bytes still buffered because the stream ended before
// resolution completed (no match found and MaxOverlap never reached). A
// resumed stream that finishes early must not lose its unresolved tail.
func (d *Deduplicator) Flush() string {
	if d.resolved || d.buffer == "" {
		return ""
	}
	d.resolved = true
	out := d.buffer
	d.buffer = ""
	return out
}

// rawPrefixForNormalized finds the shortest raw-byte prefix of the buffer
// whose normalized form equals want.
func (d *Deduplicator) rawPrefixForNormalized(want string) (int, bool) {
	for rawLen := 1; rawLen <= len(d.buffer); rawLen++ {
		if normalize(d.buffer[:rawLen], d.cfg) == want {
			return rawLen, true
		}
	}
	return 0, false
}
