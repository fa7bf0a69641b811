package transport

import "testing"

func TestSubjectFor(t *testing.T) {
	cases := map[string]string{
		"match/ABCD":      "match.ABCD",
		"/user/p1/errors": "user.p1.errors",
		"app/register":    "app.register",
	}
	for in, want := range cases {
		if got := subjectFor(in); got != want {
			t.Errorf("subjectFor(%q) = %q, want %q", in, got, want)
		}
	}
}
