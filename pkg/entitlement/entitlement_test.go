package entitlement

import (
	"context"
	"testing"
)

func TestTierChecker(t *testing.T) {
	c := NewTierChecker(Config{
		AllowedTiers: []string{"Pro", "team"},
		DefaultTier:  "free",
		BlockedUsers: []string{"banned"},
	})

	tests := []struct {
		user, tier string
		want       bool
	}{
		{"u1", "pro", true},
		{"u1", "TEAM", true},
		{"u1", "free", false},
		{"u1", "", false},
		{"banned", "pro", false},
	}
	for _, tt := range tests {
		got, err := c.CanGenerate(context.Background(), tt.user, tt.tier)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got != tt.want {
			t.Errorf("CanGenerate(%s, %s) = %v, want %v", tt.user, tt.tier, got, tt.want)
		}
	}

	c.Update(Config{AllowedTiers: []string{"free"}, DefaultTier: "free"})
	if ok, _ := c.CanGenerate(context.Background(), "u1", ""); !ok {
		t.Error("Expected default tier to be allowed after update")
	}
}

func TestTierChecker_EmptyAllowsAll(t *testing.T) {
	c := NewTierChecker(Config{BlockedUsers: []string{"banned"}})
	if ok, _ := c.CanGenerate(context.Background(), "u1", "anything"); !ok {
		t.Error("Expected empty tier list to allow")
	}
	if ok, _ := c.CanGenerate(context.Background(), "banned", ""); ok {
		t.Error("Expected blocked user denied")
	}
	if ok, _ := (AllowAll{}).CanGenerate(context.Background(), "x", ""); !ok {
		t.Error("Expected AllowAll to allow")
	}
}
