package archon

import "testing"

const geometryACF = `[CONFIG]
PARAMETER0=Lines=100
PARAMETER1=Pixels=100
PARAMETER2=PreSkipLines=0
PARAMETER3=PreSkipPixels=0
PARAMETER4=PostSkipLines=0
PARAMETER5=PostSkipPixels=0
PARAMETER6=OverscanLines=0
PARAMETER7=OverscanPixels=0
PARAMETER8=VerticalBinning=1
PARAMETER9=HorizontalBinning=1
`

func TestComputeGeometry(t *testing.T) {
	acf, err := ParseACF(geometryACF)
	if err != nil {
		t.Fatalf("ParseACF: %v", err)
	}
	g, err := ComputeGeometry(acf)
	if err != nil {
		t.Fatalf("ComputeGeometry: %v", err)
	}
	if g.Lines != 100 || g.Pixels != 100 {
		t.Fatalf("unexpected geometry: %+v", g)
	}
	if g.BufferBytes(16) != 100*100*2 {
		t.Fatalf("BufferBytes(16) = %d, want %d", g.BufferBytes(16), 100*100*2)
	}
	if g.BufferBytes(32) != 100*100*4 {
		t.Fatalf("BufferBytes(32) = %d, want %d", g.BufferBytes(32), 100*100*4)
	}
}

func TestComputeGeometryRejectsMissingParams(t *testing.T) {
	acf, _ := ParseACF("[CONFIG]\nPARAMETER0=Lines=100\n")
	if _, err := ComputeGeometry(acf); err == nil {
		t.Fatalf("expected error for incomplete geometry parameters")
	}
}

func TestIntMSRoundTripAtLongExposures(t *testing.T) {
	cases := []float64{0.01, 1, 15, 10000}
	for _, seconds := range cases {
		ms := IntMSFromSeconds(seconds)
		back := SecondsFromIntMS(ms)
		if back != seconds {
			t.Errorf("round-trip %v s -> %d cs -> %v s, want exact match", seconds, ms, back)
		}
	}
}
