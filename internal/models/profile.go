package models

// Profile is the user-editable profile document, keyed by the auth UID.
// Only the current session's profile is ever held locally.
type Profile struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

func (r *UpdateProfileRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.DisplayName == "" {
		errors["display_name"] = "Display name is required"
	} else if len(r.DisplayName) > 80 {
		errors["display_name"] = "Display name must be at most 80 characters"
	}

	return errors
}

// ProfileFromFields rebuilds a Profile from a profile document snapshot.
func ProfileFromFields(uid string, fields map[string]any) Profile {
	p := Profile{UID: uid}
	if v, ok := fields["displayName"].(string); ok {
		p.DisplayName = v
	}
	if v, ok := fields["email"].(string); ok {
		p.Email = v
	}
	return p
}
