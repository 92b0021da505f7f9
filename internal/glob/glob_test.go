package glob

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*.csv", "sales.csv", true},
		{"*.csv", "sales.csv.bak", false},
		{"sales_??.csv", "sales_01.csv", true},
		{"sales_??.csv", "sales_1.csv", false},
		{"[abc]*", "beta", true},
		{"[!abc]*", "beta", false},
		{"{foo,bar}.txt", "bar.txt", true},
		{"a.b", "axb", false},
		{`a\*b`, "a*b", true},
		{"dir/**", "dir/sub/file", true},
		{"report(1)", "report(1)", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.input, func(t *testing.T) {
			if got := New(tt.pattern).Match(tt.input); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.input, got, tt.want)
			}
		})
	}
}

func TestGroups(t *testing.T) {
	got := New("*_?.csv").Groups("sales_1.csv")
	want := []string{"sales_1.csv", "sales", "1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups = %v, want %v", got, want)
	}
	if New("*.csv").Groups("sales.txt") != nil {
		t.Error("expected nil groups for a non matching input")
	}
}

func TestHasWildcard(t *testing.T) {
	if New("table").HasWildcard() {
		t.Error("plain name has no wildcard")
	}
	if !New("tab*").HasWildcard() {
		t.Error("star is a wildcard")
	}
	if New(`tab\*`).HasWildcard() {
		t.Error("escaped star is not a wildcard")
	}
}

func TestExpand(t *testing.T) {
	attrs := map[string]string{"0": "sales_1.csv", "1": "sales", "2": "1"}
	if got := Expand("$1_copy_$2", attrs); got != "sales_copy_1" {
		t.Errorf("Expand = %q", got)
	}
	if got := Expand("$9", attrs); got != "$9" {
		t.Errorf("unknown reference should stay, got %q", got)
	}
	if !HasBackReference("$1@sqlite") || HasBackReference("plain@sqlite") {
		t.Error("HasBackReference mismatch")
	}
}
