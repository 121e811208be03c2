package acl

import (
	"strings"

	"github.com/mx-space/realtime/internal/pkg/jwt"
)

const (
	NamespaceUser   = "user"
	NamespaceChat   = "chat"
	NamespacePublic = "public"
)

// DefaultPrivilegedRoles are granted access to every user.* and chat.* channel.
var DefaultPrivilegedRoles = []string{"admin", "super-admin"}

// Policy decides which channels an identity may subscribe or broadcast to.
type Policy struct {
	privileged map[string]struct{}
}

func NewPolicy(privilegedRoles []string) *Policy {
	if len(privilegedRoles) == 0 {
		privilegedRoles = DefaultPrivilegedRoles
	}
	p := &Policy{privileged: make(map[string]struct{}, len(privilegedRoles))}
	for _, role := range privilegedRoles {
		if role = strings.TrimSpace(role); role != "" {
			p.privileged[role] = struct{}{}
		}
	}
	return p
}

// IsPrivileged reports whether the identity's role is privileged.
func (p *Policy) IsPrivileged(id jwt.Identity) bool {
	_, ok := p.privileged[id.Role]
	return ok
}

// CanSubscribe applies the subscribe rules.
func (p *Policy) CanSubscribe(id jwt.Identity, channel string) bool {
	ns, rest, ok := Split(channel)
	if !ok {
		return false
	}
	switch ns {
	case NamespacePublic:
		return true
	case NamespaceUser, NamespaceChat:
		return rest == id.ID || p.IsPrivileged(id)
	default:
		return false
	}
}

// CanBroadcast applies the broadcast rules.
func (p *Policy) CanBroadcast(id jwt.Identity, channel string) bool {
	ns, rest, ok := Split(channel)
	if !ok {
		return false
	}
	if p.IsPrivileged(id) {
		return true
	}
	switch ns {
	case NamespacePublic, NamespaceChat:
		return true
	case NamespaceUser:
		return rest == id.ID
	default:
		return false
	}
}

// MaxChannelLength bounds a channel name in bytes.
const MaxChannelLength = 200

// ValidChannel reports whether channel is a dot-separated list of non-empty
// tokens made of ASCII letters, digits, '_', '-' and '@'. Anything else,
// including whitespace, control bytes and broker wildcards, is refused so the
// name can be used verbatim as a routing key.
func ValidChannel(channel string) bool {
	if channel == "" || len(channel) > MaxChannelLength {
		return false
	}
	tokenLen := 0
	for i := 0; i < len(channel); i++ {
		b := channel[i]
		switch {
		case b == '.':
			if tokenLen == 0 {
				return false
			}
			tokenLen = 0
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9',
			b == '_', b == '-', b == '@':
			tokenLen++
		default:
			return false
		}
	}
	return tokenLen > 0
}

// Split breaks a valid channel into namespace and remainder.
func Split(channel string) (namespace, rest string, ok bool) {
	if !ValidChannel(channel) {
		return "", "", false
	}
	namespace, rest, found := strings.Cut(channel, ".")
	if !found {
		return "", "", false
	}
	return namespace, rest, true
}
