package urlguard

import "testing"

func TestIsValidTarget(t *testing.T) {
	const domain = "myfigurecollection.net"

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"bare fingerprint", "1234567", true},
		{"exact domain", "https://myfigurecollection.net/item/1234567", true},
		{"subdomain", "https://sub.myfigurecollection.net/item/1234567", true},
		{"no scheme", "myfigurecollection.net/item/1234567", true},
		{"spoofed suffix", "https://myfigurecollection.net.attacker.tld/item/1", false},
		{"path-only occurrence", "https://attacker.tld/myfigurecollection.net/item/1", false},
		{"unrelated domain", "https://evil.com/x", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsValidTarget(tc.in, domain); got != tc.want {
				t.Errorf("IsValidTarget(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
