package continuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupStripsExactOverlap(t *testing.T) {
	cfg := DedupConfig{MinOverlap: 1, MaxOverlap: 32}
	d := NewDeduplicator(cfg, "the quick brown fox")

	out := d.Filter("brown fox jumps")
	assert.Equal(t, " jumps", out)
}

func TestDedupNoOverlapFlushesAfterMaxOverlapBytes(t *testing.T) {
	cfg := DedupConfig{MinOverlap: 4, MaxOverlap: 8}
	d := NewDeduplicator(cfg, "zzzzzzzz")

	out1 := d.Filter("abc")
	assert.Empty(t, out1)
	out2 := d.Filter("defghij")
	assert.Equal(t, "abcdefghij", out2)
}

func TestDedupCaseInsensitiveByDefault(t *testing.T) {
	cfg := DedupConfig{MinOverlap: 1, MaxOverlap: 32, CaseSensitive: false}
	d := NewDeduplicator(cfg, "Hello World")

	out := d.Filter("WORLD, continued")
	assert.Equal(t, ", continued", out)
}

func TestDedupCaseSensitiveRejectsMismatchedCase(t *testing.T) {
	cfg := DedupConfig{MinOverlap: 1, MaxOverlap: 6, CaseSensitive: true}
	d := NewDeduplicator(cfg, "Hello World")

	out1 := d.Filter("WOR")
	assert.Empty(t, out1)
	out2 := d.Filter("LD!!!")
	assert.Equal(t, "WORLD!!!", out2)
}

func TestDedupPassesThroughAfterResolution(t *testing.T) {
	cfg := DedupConfig{MinOverlap: 1, MaxOverlap: 16}
	d := NewDeduplicator(cfg, "abc")

	_ = d.Filter("abc next")
	out := d.Filter(" more")
	assert.Equal(t, " more", out)
}
