package automation

import "time"

// Kind names an automation loop.
type Kind string

const (
	KindAutoMist   Kind = "auto_mist"
	KindLightCycle Kind = "light_cycle"
)

// ParseKind resolves an automation kind.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(value); k {
	case KindAutoMist, KindLightCycle:
		return k, nil
	}
	return "", ErrUnknownKind
}

// Actuator is a device output driven by a controller.
type Actuator string

const (
	ActuatorHumidifier Actuator = "humidifier"
	ActuatorLight      Actuator = "light"
)

// Command is one actuator write. On is used by the humidifier, Brightness by the light.
type Command struct {
	SourceID   string    `json:"source_id"`
	Actuator   Actuator  `json:"actuator"`
	On         bool      `json:"on"`
	Brightness int       `json:"brightness"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// CommandRecord is the log entry of a command write attempt.
type CommandRecord struct {
	ID      string  `json:"id"`
	Command Command `json:"command"`
	Status  string  `json:"status"`
	Error   string  `json:"error,omitempty"`
}

// ReportedState is what the device was last successfully told. It can lag the
// controller state when writes fail.
type ReportedState struct {
	HumidifierOn bool      `json:"humidifier_on"`
	HumidifierAt time.Time `json:"humidifier_at,omitempty"`
	Brightness   int       `json:"brightness"`
	LightAt      time.Time `json:"light_at,omitempty"`
}

// Apply records a successful write.
func (s *ReportedState) Apply(cmd Command) {
	switch cmd.Actuator {
	case ActuatorHumidifier:
		s.HumidifierOn = cmd.On
		s.HumidifierAt = cmd.At
	case ActuatorLight:
		s.Brightness = cmd.Brightness
		s.LightAt = cmd.At
	}
}
