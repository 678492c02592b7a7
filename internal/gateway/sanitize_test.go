package gateway

import "testing"

func TestSanitizeStripsFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"bare fence", "```\n{\"a\": 1}\n```", "{\"a\": 1}"},
		{"single line fence", "```json {\"a\": 1}```", "{\"a\": 1}"},
		{"clean json", "{\"a\": 1}", "{\"a\": 1}"},
		{"clean array", "[1, 2, 3]", "[1, 2, 3]"},
		{"surrounding whitespace", "  \n{\"a\": 1}\n  ", "{\"a\": 1}"},
		{"plain prose", "no fences here", "no fences here"},
	}

	for _, tc := range cases {
		got := Sanitize(tc.in)
		if got != tc.want {
			t.Errorf("%s: Sanitize(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"```json\n{\"metrics\": {\"followers\": 500}}\n```",
		"{\"metrics\": {\"followers\": 500}}",
		"```\nplain text\n```",
		"already clean",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}
