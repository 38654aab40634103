package automation

import profiles "terrarium-cloud/internal/profiles/domain"

// Restriction reasons reported to clients.
const (
	ReasonNoConnection  = "No connection available"
	ReasonNoProfile     = "Profile not loaded"
	ReasonNotConfigured = "Automation settings not configured"
	ReasonReady         = "Connected and synced"
)

// Restriction gates automation for a source. Enabled means the loops may
// drive actuators; CanUpdate means user commands are accepted.
type Restriction struct {
	Enabled   bool   `json:"enabled"`
	CanUpdate bool   `json:"can_update"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

// Restrict evaluates the connection and profile gate. A profile without
// automation settings still accepts toggles, which create the settings.
func Restrict(connected bool, profile *profiles.Profile) Restriction {
	switch {
	case !connected:
		return Restriction{Reason: ReasonNoConnection, Err: ErrConnectionUnavailable}
	case profile == nil:
		return Restriction{Reason: ReasonNoProfile, Err: ErrProfileNotLoaded}
	case profile.Automation == nil:
		return Restriction{CanUpdate: true, Reason: ReasonNotConfigured, Err: ErrAutomationNotConfigured}
	}
	return Restriction{Enabled: true, CanUpdate: true, Reason: ReasonReady}
}
