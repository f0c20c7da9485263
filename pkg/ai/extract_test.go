package ai

import "testing"

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			name: "prose wrapped",
			in:   `prefix { "overallSentiment": "Positive", "emotions": [], "summary": "s", "affirmation": "a" } suffix`,
			want: `{ "overallSentiment": "Positive", "emotions": [], "summary": "s", "affirmation": "a" }`,
			ok:   true,
		},
		{
			name: "code fence",
			in:   "```json\n{\"a\":{\"b\":1}}\n```",
			want: `{"a":{"b":1}}`,
			ok:   true,
		},
		{name: "no braces", in: "I cannot help with that.", ok: false},
		{name: "only open", in: "{ unfinished", ok: false},
		{name: "reversed", in: "} then {", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("ExtractJSONObject(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}
