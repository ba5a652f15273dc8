package app

import "testing"

func TestPlainText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "just words", "just words"},
		{"nested", "<h1>Welcome</h1><p>to the <b>guide</b></p>", "Welcome to the guide"},
		{"skips scripts", "<p>Hello</p><script>alert(1)</script><style>p{}</style>", "Hello"},
		{"collapses whitespace", "<ul>\n  <li>one</li>\n  <li>two</li>\n</ul>", "one two"},
		{"entities", "<p>fish &amp; chips</p>", "fish & chips"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := plainText(tc.in); got != tc.want {
				t.Fatalf("plainText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
