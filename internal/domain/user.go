// Package domain contains core domain types for the goally planning core.
package domain

// Default profile values.
const (
	DefaultUserName = "User"
	DefaultUserRole = "Professional"
)

// DefaultAnchors are the routine anchors a new profile starts with.
var DefaultAnchors = []string{"Morning Coffee", "After Lunch", "End of Day"}

// UserProfile describes a user's daily routine.
type UserProfile struct {
	UserID      string            `json:"user_id,omitempty"`
	Name        string            `json:"name"`
	Role        string            `json:"role"`
	Anchors     []string          `json:"anchors"`
	AnchorTimes map[string]string `json:"anchor_times,omitempty"` // anchor name -> "HH:MM"
	Timezone    string            `json:"timezone,omitempty"`
}

// DefaultProfile returns a profile populated with defaults.
func DefaultProfile(userID string) UserProfile {
	return UserProfile{
		UserID:  userID,
		Name:    DefaultUserName,
		Role:    DefaultUserRole,
		Anchors: append([]string(nil), DefaultAnchors...),
	}
}

// Normalize fills empty fields with defaults.
func (p *UserProfile) Normalize() {
	if p.Name == "" {
		p.Name = DefaultUserName
	}
	if p.Role == "" {
		p.Role = DefaultUserRole
	}
	if len(p.Anchors) == 0 {
		p.Anchors = append([]string(nil), DefaultAnchors...)
	}
}
