package btree

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 127, 128, 200, 16383, 16384,
		1 << 20, 1<<21 - 1, 1 << 28, 1<<35 - 1,
		1 << 42, 1 << 49, 1<<56 - 1, 1 << 56,
		1<<64 - 1,
	}
	for _, v := range cases {
		buf := make([]byte, 9)
		n := PutVarint(buf, v)
		if n != VarintLen(v) {
			t.Errorf("PutVarint(%d): wrote %d bytes, VarintLen says %d", v, n, VarintLen(v))
		}
		got, consumed := GetVarint(buf[:n])
		if consumed != n {
			t.Errorf("GetVarint(%d): consumed %d, want %d", v, consumed, n)
		}
		if got != v {
			t.Errorf("round trip mismatch: put %d got %d", v, got)
		}
	}
}

func TestVarintMaxIsNineBytes(t *testing.T) {
	buf := make([]byte, 9)
	n := PutVarint(buf, ^uint64(0))
	if n != 9 {
		t.Fatalf("expected 9 bytes for max uint64, got %d", n)
	}
}
