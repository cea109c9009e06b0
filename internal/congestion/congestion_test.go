package congestion

import "testing"

func TestNewSelectsVariantByName(t *testing.T) {
	cases := []struct {
		variant string
		want    string
	}{
		{"newreno", "newreno"},
		{"dctcp", "dctcp"},
		{"bbr", "bbr"},
		{"unknown-garbage", "newreno"},
		{"", "newreno"},
	}
	for _, tc := range cases {
		got := New(tc.variant).Name()
		if got != tc.want {
			t.Errorf("New(%q).Name() = %q, want %q", tc.variant, got, tc.want)
		}
	}
}
