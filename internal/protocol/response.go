package protocol

import "strconv"

// Response is the single reply the daemon writes back on a connection.
type Response interface {
	ResponseName() string
}

type Success struct{}

type Failure struct {
	Message string `json:"message"`
}

type VolumeValue struct {
	Value float64 `json:"value"`
}

type MuteState struct {
	Muted bool `json:"muted"`
}

type BrightnessValue struct {
	Value float64 `json:"value"`
}

func (Success) ResponseName() string         { return "success" }
func (Failure) ResponseName() string         { return "failure" }
func (VolumeValue) ResponseName() string     { return "volume_value" }
func (MuteState) ResponseName() string       { return "mute_state" }
func (BrightnessValue) ResponseName() string { return "brightness_value" }

// Format renders a response the way the command line client prints it.
func Format(r Response) string {
	switch r := r.(type) {
	case Success:
		return "ok"
	case Failure:
		return "error: " + r.Message
	case VolumeValue:
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	case BrightnessValue:
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	case MuteState:
		return strconv.FormatBool(r.Muted)
	default:
		return "unknown response"
	}
}
