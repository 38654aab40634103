package automation

import "errors"

var (
	ErrConnectionUnavailable   = errors.New("automation: no connection available")
	ErrProfileNotLoaded        = errors.New("automation: profile not loaded")
	ErrAutomationNotConfigured = errors.New("automation: automation settings not configured")
	ErrActuatorWriteFailed     = errors.New("automation: actuator write failed")
	ErrCoolingDown             = errors.New("automation: mist is cooling down")
	ErrAlreadyMisting          = errors.New("automation: mist already active")
	ErrUnknownKind             = errors.New("automation: unknown automation kind")
	ErrInvalidSchedule         = errors.New("automation: invalid light schedule")
)
