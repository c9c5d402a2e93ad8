package protocol

// ============================================================================
// Commands
// ============================================================================
// A Command is one request sent by the client over the socket. Each widget
// command carries an Op from a closed set and a TargetSelector.
// ============================================================================

// Command is the marker interface for everything that travels on the daemon's
// event bus. Only the types in this file have a wire form; other packages may
// define internal commands that the codec rejects with ErrUnsupported.
type Command interface {
	CommandName() string
}

// Widget names one of the overlay panels on a monitor.
type Widget string

const (
	WidgetVolume     Widget = "volume"
	WidgetBrightness Widget = "brightness"
	WidgetLauncher   Widget = "launcher"
)

// Widgets lists every widget in display order.
var Widgets = []Widget{WidgetVolume, WidgetBrightness, WidgetLauncher}

// OpKind identifies an operation on a widget.
type OpKind string

const (
	OpGet        OpKind = "get"
	OpSet        OpKind = "set"
	OpSetSmooth  OpKind = "set_smooth"
	OpSetRough   OpKind = "set_rough"
	OpIncrement  OpKind = "increment"
	OpDecrement  OpKind = "decrement"
	OpOpen       OpKind = "open"
	OpOpenTimed  OpKind = "open_timed"
	OpClose      OpKind = "close"
	OpToggle     OpKind = "toggle"
	OpMute       OpKind = "mute"
	OpUnmute     OpKind = "unmute"
	OpToggleMute OpKind = "toggle_mute"
	OpGetMute    OpKind = "get_mute"
)

// Op is one operation with its optional numeric argument. Value is a level
// for Set* ops, a delta for Increment/Decrement and seconds for OpenTimed.
type Op struct {
	Kind  OpKind  `json:"kind"`
	Value float64 `json:"value,omitempty"`
}

func Get() Op                { return Op{Kind: OpGet} }
func Set(v float64) Op       { return Op{Kind: OpSet, Value: v} }
func SetSmooth(v float64) Op { return Op{Kind: OpSetSmooth, Value: v} }
func SetRough(v float64) Op  { return Op{Kind: OpSetRough, Value: v} }
func Increment(v float64) Op { return Op{Kind: OpIncrement, Value: v} }
func Decrement(v float64) Op { return Op{Kind: OpDecrement, Value: v} }
func Open() Op               { return Op{Kind: OpOpen} }
func OpenTimed(s float64) Op { return Op{Kind: OpOpenTimed, Value: s} }
func Close() Op              { return Op{Kind: OpClose} }
func Toggle() Op             { return Op{Kind: OpToggle} }
func Mute() Op               { return Op{Kind: OpMute} }
func Unmute() Op             { return Op{Kind: OpUnmute} }
func ToggleMute() Op         { return Op{Kind: OpToggleMute} }
func GetMute() Op            { return Op{Kind: OpGetMute} }

var (
	sliderOps = []OpKind{
		OpGet, OpSet, OpSetSmooth, OpSetRough, OpIncrement, OpDecrement,
		OpOpen, OpOpenTimed, OpClose,
	}
	volumeOps     = append(append([]OpKind{}, sliderOps...), OpMute, OpUnmute, OpToggleMute, OpGetMute)
	brightnessOps = sliderOps
	launcherOps   = []OpKind{OpOpen, OpClose, OpToggle, OpOpenTimed}
)

// OpsFor returns the closed set of operations accepted by a widget.
func OpsFor(w Widget) []OpKind {
	switch w {
	case WidgetVolume:
		return volumeOps
	case WidgetBrightness:
		return brightnessOps
	case WidgetLauncher:
		return launcherOps
	default:
		return nil
	}
}

// Supports reports whether op belongs to the widget's operation set.
func Supports(w Widget, op OpKind) bool {
	for _, k := range OpsFor(w) {
		if k == op {
			return true
		}
	}
	return false
}

// PanelCommand is implemented by the per-widget commands.
type PanelCommand interface {
	Command
	Panel() (Widget, Op, TargetSelector)
}

// Shutdown asks the daemon to exit.
type Shutdown struct{}

// Volume drives the volume slider.
type Volume struct {
	Op     Op             `json:"op"`
	Target TargetSelector `json:"target"`
}

// Brightness drives the brightness slider.
type Brightness struct {
	Op     Op             `json:"op"`
	Target TargetSelector `json:"target"`
}

// Launcher drives the application launcher.
type Launcher struct {
	Op     Op             `json:"op"`
	Target TargetSelector `json:"target"`
}

func (Shutdown) CommandName() string   { return "shutdown" }
func (Volume) CommandName() string     { return "volume" }
func (Brightness) CommandName() string { return "brightness" }
func (Launcher) CommandName() string   { return "launcher" }

func (c Volume) Panel() (Widget, Op, TargetSelector)     { return WidgetVolume, c.Op, c.Target }
func (c Brightness) Panel() (Widget, Op, TargetSelector) { return WidgetBrightness, c.Op, c.Target }
func (c Launcher) Panel() (Widget, Op, TargetSelector)   { return WidgetLauncher, c.Op, c.Target }

// NewPanelCommand builds the command for widget w.
func NewPanelCommand(w Widget, op Op, target TargetSelector) (PanelCommand, bool) {
	switch w {
	case WidgetVolume:
		return Volume{Op: op, Target: target}, true
	case WidgetBrightness:
		return Brightness{Op: op, Target: target}, true
	case WidgetLauncher:
		return Launcher{Op: op, Target: target}, true
	default:
		return nil, false
	}
}
