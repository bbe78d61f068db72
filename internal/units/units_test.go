package units

import "testing"

func TestGToSIAndBack(t *testing.T) {
	si := GToSI(1.0)
	if si != Gravity {
		t.Errorf("GToSI(1.0) = %v, want %v", si, Gravity)
	}
	if g := SIToG(si); g != 1.0 {
		t.Errorf("SIToG(GToSI(1.0)) = %v, want 1.0", g)
	}
}

func TestConvertAccelerationGToCmps2(t *testing.T) {
	got := ConvertAcceleration(1.0, G, CMPS2)
	want := Gravity * 100
	if got != want {
		t.Errorf("ConvertAcceleration(1g, cm/s2) = %v, want %v", got, want)
	}
}

func TestIsValidAccelerationCaseInsensitive(t *testing.T) {
	if !IsValidAcceleration("G") {
		t.Error("expected uppercase G to be valid")
	}
	if IsValidAcceleration("furlongs") {
		t.Error("expected unknown unit to be invalid")
	}
}

func TestIsNanometerUnit(t *testing.T) {
	if !IsNanometerUnit("nm/s") {
		t.Error("expected nm/s to be detected as nanometer unit")
	}
	if IsNanometerUnit("m/s") {
		t.Error("expected m/s to not be a nanometer unit")
	}
}

func TestRewriteNanometerUnit(t *testing.T) {
	if got := RewriteNanometerUnit("nm/s"); got != "m/s" {
		t.Errorf("RewriteNanometerUnit(nm/s) = %q, want m/s", got)
	}
}

func TestDefaultUnitForSegmentType(t *testing.T) {
	if got := DefaultUnitForSegmentType("v"); got != MPS {
		t.Errorf("DefaultUnitForSegmentType(v) = %q, want m/s", got)
	}
	if got := DefaultUnitForSegmentType("A"); got != MPS2 {
		t.Errorf("DefaultUnitForSegmentType(A) = %q, want m/s2", got)
	}
	if got := DefaultUnitForSegmentType("X"); got != "" {
		t.Errorf("DefaultUnitForSegmentType(X) = %q, want empty", got)
	}
}
