package queue

import (
	"bytes"
	"testing"

	"github.com/mood-agency/relay/pkg/id"
)

func TestReadyKeyOrdering(t *testing.T) {
	cases := []struct {
		aPrio uint32
		aSeq  uint64
		bPrio uint32
		bSeq  uint64
	}{
		{0, 2, 1, 1},          // lower priority value sorts first regardless of seq
		{3, 1, 3, 2},          // FIFO within a priority
		{0, 1 << 40, 1, 1},    // large sequences stay within their priority band
		{255, 1, 256, 1},      // priority bytes compare numerically, not lexically
		{1, 255, 1, 1 << 32},  // sequence bytes likewise
	}
	for _, c := range cases {
		a := ReadyKey("q", c.aPrio, c.aSeq)
		b := ReadyKey("q", c.bPrio, c.bSeq)
		if bytes.Compare(a, b) >= 0 {
			t.Fatalf("(%d,%d) should sort before (%d,%d)", c.aPrio, c.aSeq, c.bPrio, c.bSeq)
		}
	}
}

func TestParseReadyKeyRoundTrip(t *testing.T) {
	key := ReadyKey("work", 7, 42)
	prio, seq, ok := parseReadyKey(key, ReadyPrefix("work"))
	if !ok || prio != 7 || seq != 42 {
		t.Fatalf("round trip: %d %d %v", prio, seq, ok)
	}
	if _, _, ok := parseReadyKey(key[:len(key)-1], ReadyPrefix("work")); ok {
		t.Fatalf("truncated key must not parse")
	}
}

func TestParseLeaseIdxKeyRoundTrip(t *testing.T) {
	msgID := id.NewGenerator().Next()
	key := LeaseIdxKey("work", 123456, msgID)
	deadline, gotID, ok := parseLeaseIdxKey(key, LeaseIdxPrefix("work"))
	if !ok || deadline != 123456 || gotID != msgID {
		t.Fatalf("round trip: %d %v %v", deadline, gotID, ok)
	}
}

func TestLeaseIdxKeyOrdering(t *testing.T) {
	msgID := id.Zero
	early := LeaseIdxKey("q", 1000, msgID)
	late := LeaseIdxKey("q", 2000, msgID)
	if bytes.Compare(early, late) >= 0 {
		t.Fatalf("earlier deadline must sort first")
	}
}

func TestKeyRangeCoversPrefix(t *testing.T) {
	lo, hi := keyRange(ReadyPrefix("work"))
	key := ReadyKey("work", 0, 1)
	if bytes.Compare(key, lo) < 0 || bytes.Compare(key, hi) >= 0 {
		t.Fatalf("key outside [lo, hi)")
	}
	other := ReadyKey("other", 0, 1)
	if bytes.Compare(other, lo) >= 0 && bytes.Compare(other, hi) < 0 {
		t.Fatalf("foreign queue key inside range")
	}
}

func TestMetaRecordRoundTrip(t *testing.T) {
	in := metaRecord{LastSeq: 99, TotalProcessed: 12, TotalFailed: 3}
	out, ok := decodeMeta(encodeMeta(in))
	if !ok || out != in {
		t.Fatalf("meta round trip: %+v", out)
	}
	if _, ok := decodeMeta([]byte{1, 2, 3}); ok {
		t.Fatalf("short meta must not decode")
	}
}
