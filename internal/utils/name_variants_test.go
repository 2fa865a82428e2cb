package utils

import (
	"strings"
	"testing"
)

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestParsePersonName(t *testing.T) {
	testCases := []struct {
		in       string
		surname  string
		initials string
		first    string
	}{
		{"Jane Q. Smith", "Smith", "JQ", "Jane"},
		{"Dr. Jane Q. Smith", "Smith", "JQ", "Jane"},
		{"Smith JQ", "Smith", "JQ", "J"},
		{"Smith, Jane Q.", "Smith", "JQ", "Jane"},
		{"Jane Smith, PhD", "Smith", "J", "Jane"},
		{"Prof. Anna van der Berg", "van der Berg", "A", "Anna"},
		{"Jean-Pierre Dupont", "Dupont", "JP", "Jean-Pierre"},
		{"J.Q. Smith", "Smith", "JQ", "J"},
		{"Smith MD", "Smith", "MD", "M"},
		{"Wei LI", "LI", "W", "Wei"},
		{"Xiaoming WU", "WU", "X", "Xiaoming"},
		{"Li W", "Li", "W", "W"},
		{"Smith", "Smith", "", ""},
	}

	for _, tc := range testCases {
		p := ParsePersonName(tc.in)
		if p.Surname != tc.surname || p.Initials() != tc.initials || p.First() != tc.first {
			t.Errorf("ParsePersonName(%q) = {surname %q, initials %q, first %q}, want {%q, %q, %q}",
				tc.in, p.Surname, p.Initials(), p.First(), tc.surname, tc.initials, tc.first)
		}
	}
}

func TestGenerateNameVariants(t *testing.T) {
	variants := GenerateNameVariants("Dr. Jane Q. Smith")
	for _, want := range []string{"Jane Q. Smith", "Jane Smith", "J. Q. Smith", "J. Smith", "Smith JQ", "Smith J", "Smith, Jane"} {
		if !contains(variants, want) {
			t.Errorf("variants %v missing %q", variants, want)
		}
	}
	if variants[0] != "Jane Q. Smith" {
		t.Errorf("first variant = %q, want full form", variants[0])
	}

	seen := make(map[string]bool)
	for _, v := range variants {
		key := strings.ToLower(v)
		if seen[key] {
			t.Errorf("duplicate variant %q", v)
		}
		seen[key] = true
	}
}

func TestGenerateNameVariantsEdgeCases(t *testing.T) {
	if got := GenerateNameVariants("Madonna"); len(got) != 1 || got[0] != "Madonna" {
		t.Errorf("single word variants = %v", got)
	}
	if got := GenerateNameVariants("   "); len(got) != 0 {
		t.Errorf("blank name variants = %v, want empty", got)
	}

	folded := GenerateNameVariants("José Müller")
	if !contains(folded, "Jose Muller") || !contains(folded, "José Müller") {
		t.Errorf("diacritic variants = %v", folded)
	}

	hyphen := GenerateNameVariants("Jean-Pierre de la Tour")
	if contains(hyphen, "Jean-Pierre P. de la Tour") {
		t.Errorf("hyphenated given name produced a middle initial: %v", hyphen)
	}
	for _, want := range []string{"Jean-Pierre de la Tour", "J. P. de la Tour", "de la Tour JP"} {
		if !contains(hyphen, want) {
			t.Errorf("hyphenated variants %v missing %q", hyphen, want)
		}
	}
	if middle := GenerateNameVariants("Jane Anne-Marie Smith"); !contains(middle, "Jane A. Smith") {
		t.Errorf("hyphenated middle name variants = %v", middle)
	}

	particle := GenerateNameVariants("Anna van der Berg")
	if !contains(particle, "van der Berg A") {
		t.Errorf("particle variants = %v", particle)
	}
}

func TestNamesMatch(t *testing.T) {
	testCases := []struct {
		a, b string
		want bool
	}{
		{"Jane Q. Smith", "Smith JQ", true},
		{"Jane Q. Smith", "Jane Smith", true},
		{"Jane Smith", "Smith J", true},
		{"Jane Smith", "John Smith", false},
		{"Jane Q. Smith", "Jane R. Smith", false},
		{"José Müller", "Muller J", true},
		{"Jean-Pierre Dupont", "Dupont JP", true},
		{"Jane Smith", "Jane Smyth", false},
		{"Wei LI", "Li W", true},
		{"Wei LI", "Wei Liu", false},
		{"Smith", "Jane Smith", false},
		{"", "", false},
	}

	for _, tc := range testCases {
		if got := NamesMatch(tc.a, tc.b); got != tc.want {
			t.Errorf("NamesMatch(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestIdentityKey(t *testing.T) {
	a := ParsePersonName("Jane Q. Smith").IdentityKey()
	b := ParsePersonName("Smith JQ").IdentityKey()
	if a != b {
		t.Errorf("IdentityKey mismatch: %q vs %q", a, b)
	}
}
