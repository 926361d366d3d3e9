package tracker

import (
	"fmt"
	"testing"
)

func TestRecentIDsEvictsOldest(t *testing.T) {
	var r RecentIDs
	for i := 0; i < recentCap+3; i++ {
		r.Push(fmt.Sprintf("b-%d", i))
	}
	if r.Len() != recentCap {
		t.Fatalf("len = %d, want %d", r.Len(), recentCap)
	}
	if r.Contains("b-0") || r.Contains("b-2") {
		t.Error("oldest ids survived eviction")
	}
	if !r.Contains(fmt.Sprintf("b-%d", recentCap+2)) {
		t.Error("newest id missing")
	}
}

func TestParseTier(t *testing.T) {
	cases := []struct {
		in   string
		want Tier
	}{
		{"partner", TierPartner},
		{"affiliate", TierAffiliate},
		{"", TierNone},
		{"something-else", TierNone},
	}
	for _, c := range cases {
		if got := ParseTier(c.in); got != c.want {
			t.Errorf("ParseTier(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
