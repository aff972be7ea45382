package expr

import "testing"

func TestExpandAll(t *testing.T) {
	cases := []struct {
		tmpl string
		vars Vars
		want string
	}{
		{"{{x}}", Vars{"x": 5}, "5"},
		{"{{x+1}}", Vars{"x": 5}, "6"},
		{"{{x/256}}_{{y/256}}", Vars{"x": 512, "y": 256}, "2_1"},
		{"{{x/256:03}}", Vars{"x": 512}, "002"},
		{"{{(x+1)*2}}", Vars{"x": 3}, "8"},
		{"{{-x}}", Vars{"x": 3}, "-3"},
	}
	for _, c := range cases {
		got, err := ExpandAll(c.tmpl, c.vars)
		if err != nil {
			t.Fatalf("ExpandAll(%q): %v", c.tmpl, err)
		}
		if got != c.want {
			t.Errorf("ExpandAll(%q) = %q, want %q", c.tmpl, got, c.want)
		}
	}
}

func TestExpandAllErrors(t *testing.T) {
	cases := []string{
		"{{unknownvar}}",
		"{{1/0}}",
		"{{1+}}",
		"{{(1+2}}",
	}
	for _, tmpl := range cases {
		if _, err := ExpandAll(tmpl, Vars{}); err == nil {
			t.Errorf("ExpandAll(%q): expected error, got none", tmpl)
		}
	}
}

func TestModuloSign(t *testing.T) {
	got, err := ExpandAll("{{x%5}}", Vars{"x": -3})
	if err != nil {
		t.Fatal(err)
	}
	// Go's % follows the sign of the dividend: -3 % 5 == -3.
	if got != "-3" {
		t.Errorf("got %q, want -3", got)
	}
}
