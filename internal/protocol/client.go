package protocol

import "github.com/google/uuid"

// ClientCommand is the browser->controller envelope: either a reply to a
// command (Result, Image, CameraState) or an unsolicited event
// (ControlChanged, KeyEventOccurred, CameraStateChanged).
type ClientCommand struct {
	ID uuid.UUID `cbor:"1,keyasint"`

	Result             *Result           `cbor:"2,keyasint,omitempty"`
	Image              *Image            `cbor:"3,keyasint,omitempty"`
	ControlChanged     *ControlChanged   `cbor:"4,keyasint,omitempty"`
	KeyEventOccurred   *KeyEventOccurred `cbor:"5,keyasint,omitempty"`
	CameraState        *CameraState      `cbor:"6,keyasint,omitempty"`
	CameraStateChanged *CameraState      `cbor:"7,keyasint,omitempty"`
}

func (c *ClientCommand) kinds() []string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(c.Result != nil, "result")
	add(c.Image != nil, "image")
	add(c.ControlChanged != nil, "control_changed")
	add(c.KeyEventOccurred != nil, "key_event_occurred")
	add(c.CameraState != nil, "camera_state")
	add(c.CameraStateChanged != nil, "camera_state_changed")
	return kinds
}

// Kind names the payload variant carried by the command, or "" when none is set.
func (c *ClientCommand) Kind() string {
	kinds := c.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// IsEvent reports whether the payload is an unsolicited event rather than a
// reply. Events are never matched against a pending request.
func (c *ClientCommand) IsEvent() bool {
	return c.ControlChanged != nil || c.KeyEventOccurred != nil || c.CameraStateChanged != nil
}

// Event returns the typed event carried by the command, or nil for replies.
func (c *ClientCommand) Event() Event {
	switch {
	case c.ControlChanged != nil:
		return c.ControlChanged.Value()
	case c.KeyEventOccurred != nil:
		return c.KeyEventOccurred.event()
	case c.CameraStateChanged != nil:
		return CameraStateChanged{State: *c.CameraStateChanged}
	}
	return nil
}

func (c *ClientCommand) Validate() error {
	if err := exactlyOne("client_command", len(c.kinds())); err != nil {
		return err
	}
	switch {
	case c.Result != nil:
		return exactlyOne("result", count(c.Result.Success != nil, c.Result.Failure != nil))
	case c.ControlChanged != nil:
		return exactlyOne("control_changed", count(c.ControlChanged.Number != nil, c.ControlChanged.Text != nil, c.ControlChanged.Boolean != nil))
	case c.KeyEventOccurred != nil:
		k := c.KeyEventOccurred
		return exactlyOne("key_event_occurred", count(k.KeyUp != nil, k.KeyDown != nil, k.KeyPress != nil))
	}
	return nil
}

type Result struct {
	Success *string `cbor:"1,keyasint,omitempty"`
	Failure *string `cbor:"2,keyasint,omitempty"`
}

type Image struct {
	Data []byte `cbor:"1,keyasint"`
}

type ControlChanged struct {
	Number  *float64 `cbor:"1,keyasint,omitempty"`
	Text    *string  `cbor:"2,keyasint,omitempty"`
	Boolean *bool    `cbor:"3,keyasint,omitempty"`
}

// Value converts the wire union into its typed event.
func (c *ControlChanged) Value() Event {
	switch {
	case c.Number != nil:
		return NumberValue(*c.Number)
	case c.Text != nil:
		return TextValue(*c.Text)
	case c.Boolean != nil:
		return BoolValue(*c.Boolean)
	}
	return nil
}

type KeyEvent struct {
	Key      string `cbor:"1,keyasint"`
	Code     string `cbor:"2,keyasint"`
	ShiftKey bool   `cbor:"3,keyasint"`
	AltKey   bool   `cbor:"4,keyasint"`
	CtrlKey  bool   `cbor:"5,keyasint"`
	MetaKey  bool   `cbor:"6,keyasint"`
	Repeat   bool   `cbor:"7,keyasint"`
}

type KeyEventOccurred struct {
	KeyUp    *KeyEvent `cbor:"1,keyasint,omitempty"`
	KeyDown  *KeyEvent `cbor:"2,keyasint,omitempty"`
	KeyPress *KeyEvent `cbor:"3,keyasint,omitempty"`
}

func (k *KeyEventOccurred) event() Event {
	switch {
	case k.KeyUp != nil:
		return KeyboardEvent{Type: KeyUp, KeyEvent: *k.KeyUp}
	case k.KeyDown != nil:
		return KeyboardEvent{Type: KeyDown, KeyEvent: *k.KeyDown}
	case k.KeyPress != nil:
		return KeyboardEvent{Type: KeyPress, KeyEvent: *k.KeyPress}
	}
	return nil
}

type CameraState struct {
	Position      VecXYZf    `cbor:"1,keyasint"`
	Target        VecXYZf    `cbor:"2,keyasint"`
	Up            VecXYZf    `cbor:"3,keyasint"`
	Mode          CameraMode `cbor:"4,keyasint"`
	RollLock      bool       `cbor:"5,keyasint"`
	FOV           float32    `cbor:"6,keyasint"`
	FrustumHeight float32    `cbor:"7,keyasint"`
}
