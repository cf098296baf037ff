package models

// Session is the server-side marker of an active login, stored at session:<id>.
// Its presence is what keeps an unexpired access token usable.
type Session struct {
	ID    int64                  `json:"id"`
	Role  string                 `json:"role"`
	Email string                 `json:"email"`
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// NewSession builds a session record for the given user.
func NewSession(user *User) *Session {
	return &Session{
		ID:    user.ID,
		Role:  NormalizeRole(user.Role),
		Email: user.Email,
		Extra: map[string]interface{}{"name": user.Name},
	}
}

// HasRole reports whether the session role matches any of the provided roles.
// An empty role list always matches.
func (s *Session) HasRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	if s == nil {
		return false
	}
	current := NormalizeRole(s.Role)
	for _, role := range roles {
		if NormalizeRole(role) == current {
			return true
		}
	}
	return false
}
