package health

import "testing"

func TestSampleIsResilient(t *testing.T) {
	snap := Sample(t.TempDir())
	if snap.SampledAt == "" {
		t.Fatal("missing sample timestamp")
	}
	if snap.MemTotal > 0 && snap.MemUsed > snap.MemTotal {
		t.Fatalf("mem used %d exceeds total %d", snap.MemUsed, snap.MemTotal)
	}
	// A bogus path must not panic or poison the rest of the snapshot.
	_ = Sample("/definitely/not/a/mountpoint")
}
