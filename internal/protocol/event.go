package protocol

// Event is an unsolicited browser notification. The set of implementations
// is closed: NumberValue, TextValue, BoolValue, KeyboardEvent and
// CameraStateChanged.
type Event interface {
	isEvent()
}

// NumberValue is reported by sliders.
type NumberValue float64

// TextValue is reported by text boxes, select boxes and color pickers.
type TextValue string

// BoolValue is reported by check boxes and buttons.
type BoolValue bool

type KeyEventType string

const (
	KeyUp    KeyEventType = "keyup"
	KeyDown  KeyEventType = "keydown"
	KeyPress KeyEventType = "keypress"
)

type KeyboardEvent struct {
	Type KeyEventType
	KeyEvent
}

type CameraStateChanged struct {
	State CameraState
}

func (NumberValue) isEvent()        {}
func (TextValue) isEvent()          {}
func (BoolValue) isEvent()          {}
func (KeyboardEvent) isEvent()      {}
func (CameraStateChanged) isEvent() {}
