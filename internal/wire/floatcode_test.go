package wire

import "testing"

func TestFloatCodeRoundTripBelow128(t *testing.T) {
	for v := uint32(0); v < 128; v++ {
		code := EncodeFloatCode(v)
		got := DecodeFloatCode(code)
		if got != v {
			t.Fatalf("round trip failed for %d: got %d", v, got)
		}
	}
}

func TestFloatCodeRoundTripAbove128(t *testing.T) {
	for v := uint32(128); v < 1<<15; v++ {
		code := EncodeFloatCode(v)
		decoded := DecodeFloatCode(code)

		exp := uint32(code>>4) & 0x07
		mant := uint32(code & 0x0F)
		want := (mant | 0x10) << (exp + 3)

		if decoded != want {
			t.Fatalf("decode(encode(%d)) = %d, want %d (the encoder's chosen representation)", v, decoded, want)
		}

		// The representation error must never exceed one unit of the
		// granularity at that exponent (2^(exp+3)).
		granularity := uint32(1) << (exp + 3)
		diff := decoded - v
		if decoded < v {
			diff = v - decoded
		}
		if diff >= granularity {
			t.Fatalf("representation error for %d too large: got %d, granularity %d", v, diff, granularity)
		}
	}
}

func TestFloatCodeWrapsAt32768(t *testing.T) {
	a := EncodeFloatCode(32768)
	b := EncodeFloatCode(0)
	if a != b {
		t.Fatalf("EncodeFloatCode(32768) = %d, want same as EncodeFloatCode(0) = %d", a, b)
	}
}

func TestFloatCodeIdentityBelow128(t *testing.T) {
	for v := byte(0); v < 128; v++ {
		if EncodeFloatCode(uint32(v)) != v {
			t.Fatalf("EncodeFloatCode(%d) = %d, want identity below 128", v, EncodeFloatCode(uint32(v)))
		}
	}
}
