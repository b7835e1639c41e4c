package domain

// Settings sub-documents are stored and returned exactly as written. A
// replace overwrites the whole document, so a field left out of the request
// is absent afterwards. Defaults only apply when the owning record is created.

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"

	defaultTheme         = "light"
	defaultNotifications = true
	defaultVisibility    = VisibilityPrivate
	defaultColor         = "#ffffff"
)

// AccountSettings are the personal preferences of an Account.
type AccountSettings struct {
	Theme         *string `json:"theme,omitempty"`
	Notifications *bool   `json:"notifications,omitempty"`
}

// BoardSettings control how a Board is shown.
type BoardSettings struct {
	Visibility *string `json:"visibility,omitempty"`
	Color      *string `json:"color,omitempty"`
}

// DefaultAccountSettings is what a new Account starts with.
func DefaultAccountSettings() AccountSettings {
	return AccountSettings{Theme: ptr(defaultTheme), Notifications: ptr(defaultNotifications)}
}

// DefaultBoardSettings is what a new Board starts with.
func DefaultBoardSettings() BoardSettings {
	return BoardSettings{Visibility: ptr(defaultVisibility), Color: ptr(defaultColor)}
}

// withCreationDefaults fills fields the creator left out.
func (s BoardSettings) withCreationDefaults() BoardSettings {
	d := DefaultBoardSettings()
	if s.Visibility == nil {
		s.Visibility = d.Visibility
	}
	if s.Color == nil {
		s.Color = d.Color
	}
	return s
}

// Validate enforces the visibility enum.
func (s BoardSettings) Validate() error {
	if s.Visibility == nil {
		return nil
	}
	switch *s.Visibility {
	case VisibilityPublic, VisibilityPrivate:
		return nil
	default:
		return Invalid("visibility", "Visibility must be public or private")
	}
}

// Clone returns a copy that shares no pointers with s.
func (s AccountSettings) Clone() AccountSettings {
	var out AccountSettings
	if s.Theme != nil {
		out.Theme = ptr(*s.Theme)
	}
	if s.Notifications != nil {
		out.Notifications = ptr(*s.Notifications)
	}
	return out
}

// Clone returns a copy that shares no pointers with s.
func (s BoardSettings) Clone() BoardSettings {
	var out BoardSettings
	if s.Visibility != nil {
		out.Visibility = ptr(*s.Visibility)
	}
	if s.Color != nil {
		out.Color = ptr(*s.Color)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
