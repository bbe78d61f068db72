package streamid

import "testing"

func TestParseAndString(t *testing.T) {
	id, err := Parse("NC.PKD1.00.HNZ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := StreamID{Network: "NC", Station: "PKD1", Location: "00", Channel: "HNZ"}
	if id != want {
		t.Errorf("Parse = %+v, want %+v", id, want)
	}
	if got := id.String(); got != "NC.PKD1.00.HNZ" {
		t.Errorf("String() = %q, want %q", got, "NC.PKD1.00.HNZ")
	}
}

func TestParseEmptyLocation(t *testing.T) {
	id, err := Parse("NC.PKD1..HNZ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if id.Location != "" {
		t.Errorf("Location = %q, want empty", id.Location)
	}
}

func TestParseRejectsWrongArity(t *testing.T) {
	if _, err := Parse("NC.PKD1.HNZ"); err == nil {
		t.Error("expected error for 3-part identifier")
	}
}

func TestPatternMatches(t *testing.T) {
	cases := []struct {
		pattern string
		id      string
		want    bool
	}{
		{"NC.*.*.HN*", "NC.PKD1.00.HNZ", true},
		{"NC.*.*.HN*", "BK.PKD1.00.HNZ", false},
		{"NC.PKD?.00.HNZ", "NC.PKD1.00.HNZ", true},
		{"NC.PKD?.00.HNZ", "NC.PKD12.00.HNZ", false},
		{"*.*.*.*", "NC.PKD1.00.HNZ", true},
		{"NC.PKD1.00.HNZ", "NC.PKD1.00.HNZ", true},
		{"NC.PKD1.00.HNE", "NC.PKD1.00.HNZ", false},
	}
	for _, c := range cases {
		p, err := ParsePattern(c.pattern)
		if err != nil {
			t.Fatalf("ParsePattern(%q) error: %v", c.pattern, err)
		}
		id, err := Parse(c.id)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", c.id, err)
		}
		if got := p.Matches(id); got != c.want {
			t.Errorf("Pattern(%q).Matches(%q) = %v, want %v", c.pattern, c.id, got, c.want)
		}
	}
}

func TestHasWildcard(t *testing.T) {
	wild, _ := ParsePattern("NC.*.00.HNZ")
	if !wild.HasWildcard() {
		t.Error("expected HasWildcard to be true")
	}
	plain, _ := ParsePattern("NC.PKD1.00.HNZ")
	if plain.HasWildcard() {
		t.Error("expected HasWildcard to be false")
	}
}
