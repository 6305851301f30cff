package vocabulary

import "testing"

func TestBySemantic(t *testing.T) {
	r := New()
	e, ok := r.BySemantic("ADMISSION_CONFIRMED")
	if !ok {
		t.Fatal("expected ADMISSION_CONFIRMED to resolve")
	}
	if e.Trigger != "A01" || e.Role != RoleAdmission {
		t.Errorf("got trigger=%q role=%q", e.Trigger, e.Role)
	}
}

func TestByTrigger_AcceptsFullType(t *testing.T) {
	r := New()
	for _, in := range []string{"A03", "ADT^A03", "adt^a03"} {
		e, ok := r.ByTrigger(in)
		if !ok {
			t.Fatalf("%q: expected resolution", in)
		}
		if e.Semantic != EventDischarge {
			t.Errorf("%q: got %q", in, e.Semantic)
		}
	}
	if _, ok := r.ByTrigger("A99"); ok {
		t.Error("expected A99 to be unknown")
	}
}

func TestDeriveNature(t *testing.T) {
	r := New()
	cases := []struct {
		trigger, explicit, want string
	}{
		{"A01", "", "S"},
		{"A02", "", "M"},
		{"A03", "", "D"},
		{"A05", "", "S"},
		{"A06", "", "M"},
		{"A01", "H", "H"},   // explicit legal value wins
		{"A01", "ZZ", "S"},  // illegal explicit falls back to default
		{"A28", "", ""},     // lifecycle, no nature
		{"A02", "sm", "SM"}, // case-insensitive explicit
	}
	for _, c := range cases {
		if got := r.DeriveNature(c.trigger, c.explicit); got != c.want {
			t.Errorf("DeriveNature(%q,%q): got %q, want %q", c.trigger, c.explicit, got, c.want)
		}
	}
}

func TestDefault_SingletonAndRoundTrip(t *testing.T) {
	if Default() != Default() {
		t.Error("expected a single process-wide registry")
	}
	r := Default()
	for _, e := range entries {
		back, ok := r.ByTrigger(e.Trigger)
		if !ok || back.Semantic != e.Semantic {
			t.Errorf("trigger %s does not round-trip to %s", e.Trigger, e.Semantic)
		}
	}
}
