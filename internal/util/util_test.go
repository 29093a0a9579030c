package util

import "testing"

func TestHideAPIKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"ap-0123456789abcdef", "ap-0...cdef"},
		{"short", "sh...rt"},
		{"abc", "a...c"},
		{"ab", "ab"},
	}
	for _, tc := range cases {
		if got := HideAPIKey(tc.in); got != tc.want {
			t.Errorf("HideAPIKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactSecret(t *testing.T) {
	if got := RedactSecret(""); got != "" {
		t.Fatalf("empty secret should stay empty, got %q", got)
	}
	long := "0123456789abcdef0123456789abcdef"
	if got := RedactSecret(long); got != "0123456789abcdef..." {
		t.Fatalf("unexpected redaction: %q", got)
	}
}
