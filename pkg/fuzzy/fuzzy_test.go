package fuzzy

import "testing"

func TestLevenshteinDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"support", "support", 0},
		{"Support", "support", 0},
		{"suport", "support", 1},
		{"billing", "biling", 1},
		{"", "sales", 5},
		{"kitten", "sitting", 3},
	}
	for _, tc := range cases {
		if got := LevenshteinDistance(tc.a, tc.b); got != tc.want {
			t.Fatalf("distance(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestClosest(t *testing.T) {
	teams := []string{"support", "sales", "billing"}

	cases := []struct {
		query string
		want  string
		ok    bool
	}{
		{"Billing.", "billing", true},
		{"Sales team", "sales", true},
		{"suport", "support", true},
		{"legal", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := Closest(tc.query, teams, 2)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Closest(%q) = %q, %v; want %q, %v", tc.query, got, ok, tc.want, tc.ok)
		}
	}
}
