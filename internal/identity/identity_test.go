package identity

import (
	"strings"
	"testing"

	"github.com/mouseland/aistudio/internal/auth"
)

func TestFromClaims_MemberAndAdmin(t *testing.T) {
	r := NewResolver([]string{"Op@Example.com"})

	member := r.FromClaims(&auth.Claims{UserID: 7, Email: "someone@example.com", Username: "someone"})
	if member.Tier != TierMember {
		t.Fatalf("expected member, got %s", member.Tier)
	}
	if member.Key != "user_7" {
		t.Fatalf("unexpected member key %q", member.Key)
	}
	if member.Name != "someone" || member.Contact != "someone@example.com" {
		t.Fatalf("display fields wrong: %+v", member)
	}

	// allow-list match is case-insensitive
	admin := r.FromClaims(&auth.Claims{UserID: 1, Email: "op@example.com", Username: "op"})
	if admin.Tier != TierAdmin {
		t.Fatalf("expected admin, got %s", admin.Tier)
	}
	if !admin.IsAdmin() {
		t.Fatalf("IsAdmin should be true")
	}
}

func TestFromClaims_EmailFallbackName(t *testing.T) {
	r := NewResolver(nil)
	ident := r.FromClaims(&auth.Claims{UserID: 2, Email: "a@b.c"})
	if ident.Name != "a@b.c" {
		t.Fatalf("expected email fallback for name, got %q", ident.Name)
	}
}

func TestGuest_MintsAndPreservesKeys(t *testing.T) {
	r := NewResolver(nil)

	minted := r.Guest("")
	if minted.Tier != TierGuest {
		t.Fatalf("expected guest tier, got %s", minted.Tier)
	}
	if !strings.HasPrefix(minted.Key, "guest_") || len(minted.Key) <= len("guest_") {
		t.Fatalf("expected minted guest key, got %q", minted.Key)
	}
	if minted.Unlimited() {
		t.Fatalf("guests are metered")
	}

	kept := r.Guest("guest_existing")
	if kept.Key != "guest_existing" {
		t.Fatalf("client key must be preserved, got %q", kept.Key)
	}

	other := r.Guest("")
	if other.Key == minted.Key {
		t.Fatalf("minted keys must be unique")
	}
}

func TestUnlimitedByTier(t *testing.T) {
	for tier, want := range map[Tier]bool{TierGuest: false, TierMember: true, TierAdmin: true} {
		if got := (Identity{Tier: tier}).Unlimited(); got != want {
			t.Fatalf("tier %s: unlimited=%v, want %v", tier, got, want)
		}
	}
}
