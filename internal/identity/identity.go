package identity

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mouseland/aistudio/internal/auth"
)

// Tier decides quota treatment and admin authorization.
type Tier string

const (
	TierGuest  Tier = "guest"
	TierMember Tier = "member"
	TierAdmin  Tier = "admin"
)

// Identity is the resolved caller: a stable key plus denormalized
// display fields captured onto every request record.
type Identity struct {
	Tier    Tier
	Key     string
	Name    string
	Contact string
}

func (i Identity) IsAdmin() bool { return i.Tier == TierAdmin }

// Unlimited reports whether the tier is exempt from quota accounting.
func (i Identity) Unlimited() bool { return i.Tier != TierGuest }

// Resolver maps authenticated claims or guest keys to identities.
// The admin allow-list is fixed at construction; tier is still resolved
// fresh on every call so a signed-out session loses admin immediately.
type Resolver struct {
	adminEmails map[string]struct{}
}

func NewResolver(adminEmails []string) *Resolver {
	m := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		e = strings.TrimSpace(strings.ToLower(e))
		if e != "" {
			m[e] = struct{}{}
		}
	}
	return &Resolver{adminEmails: m}
}

// FromClaims resolves an authenticated principal to member or admin.
func (r *Resolver) FromClaims(c *auth.Claims) Identity {
	tier := TierMember
	if _, ok := r.adminEmails[strings.ToLower(c.Email)]; ok {
		tier = TierAdmin
	}
	name := c.Username
	if name == "" {
		name = c.Email
	}
	return Identity{
		Tier:    tier,
		Key:     memberKey(c.UserID),
		Name:    name,
		Contact: c.Email,
	}
}

// Guest resolves a client-minted pseudo-id, issuing a fresh one when the
// client sent none. The key is not server-verified; the quota built on it
// is a soft guard, not a security boundary.
func (r *Resolver) Guest(key string) Identity {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "guest_" + uuid.NewString()
	}
	return Identity{
		Tier:    TierGuest,
		Key:     key,
		Name:    "Guest User",
		Contact: "guest",
	}
}

func memberKey(userID uint64) string {
	return "user_" + strconv.FormatUint(userID, 10)
}
