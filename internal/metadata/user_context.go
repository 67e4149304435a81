package metadata

import (
	"strconv"
	"strings"
)

// UserContext represents the authenticated caller, set by auth middleware.
type UserContext struct {
	ID       string `json:"id"`
	UserType string `json:"user_type"`
}

// UserID parses the opaque id as the numeric usuarios key.
func (u *UserContext) UserID() (int64, bool) {
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Is reports whether the caller has the given user type.
func (u *UserContext) Is(userType string) bool {
	return userType != "" && strings.EqualFold(u.UserType, userType)
}
