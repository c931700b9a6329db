package protocol

import "github.com/google/uuid"

// ServerCommand is the controller->browser envelope. Exactly one payload
// field is set.
type ServerCommand struct {
	ID uuid.UUID `cbor:"1,keyasint"`

	LogMessage                 *string                     `cbor:"2,keyasint,omitempty"`
	CaptureScreen              *bool                       `cbor:"3,keyasint,omitempty"`
	AddCustomControl           *CustomControl              `cbor:"4,keyasint,omitempty"`
	SetCamera                  *SetCamera                  `cbor:"5,keyasint,omitempty"`
	AddObject                  *AddObject                  `cbor:"6,keyasint,omitempty"`
	SetKeyEventHandler         *SetKeyEventHandler         `cbor:"7,keyasint,omitempty"`
	RemoveObject               *RemoveObject               `cbor:"8,keyasint,omitempty"`
	RemoveCustomControl        *RemoveCustomControl        `cbor:"9,keyasint,omitempty"`
	SetCustomControl           *SetCustomControl           `cbor:"10,keyasint,omitempty"`
	SetEnable                  *bool                       `cbor:"11,keyasint,omitempty"`
	SetProperty                *SetProperty                `cbor:"12,keyasint,omitempty"`
	GetCameraState             *bool                       `cbor:"13,keyasint,omitempty"`
	SetCameraStateEventHandler *SetCameraStateEventHandler `cbor:"14,keyasint,omitempty"`
	SetConfig                  *SetConfig                  `cbor:"15,keyasint,omitempty"`
}

// Kind names the payload variant carried by the command, or "" when none is set.
func (c *ServerCommand) Kind() string {
	kinds := c.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (c *ServerCommand) kinds() []string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(c.LogMessage != nil, "log_message")
	add(c.CaptureScreen != nil, "capture_screen")
	add(c.AddCustomControl != nil, "add_custom_control")
	add(c.SetCamera != nil, "set_camera")
	add(c.AddObject != nil, "add_object")
	add(c.SetKeyEventHandler != nil, "set_key_event_handler")
	add(c.RemoveObject != nil, "remove_object")
	add(c.RemoveCustomControl != nil, "remove_custom_control")
	add(c.SetCustomControl != nil, "set_custom_control")
	add(c.SetEnable != nil, "set_enable")
	add(c.SetProperty != nil, "set_property")
	add(c.GetCameraState != nil, "get_camera_state")
	add(c.SetCameraStateEventHandler != nil, "set_camera_state_event_handler")
	add(c.SetConfig != nil, "set_config")
	return kinds
}

// Validate checks the one-variant invariant of the envelope and of every
// nested union it carries.
func (c *ServerCommand) Validate() error {
	if err := exactlyOne("server_command", len(c.kinds())); err != nil {
		return err
	}
	switch {
	case c.AddCustomControl != nil:
		return c.AddCustomControl.validate()
	case c.SetCamera != nil:
		return c.SetCamera.validate()
	case c.AddObject != nil:
		return c.AddObject.validate()
	case c.SetKeyEventHandler != nil:
		return c.SetKeyEventHandler.validate()
	case c.RemoveObject != nil:
		return c.RemoveObject.validate()
	case c.RemoveCustomControl != nil:
		return c.RemoveCustomControl.validate()
	case c.SetCustomControl != nil:
		return c.SetCustomControl.validate()
	case c.SetProperty != nil:
		return c.SetProperty.validate()
	case c.SetCameraStateEventHandler != nil:
		return c.SetCameraStateEventHandler.validate()
	case c.SetConfig != nil:
		return c.SetConfig.validate()
	}
	return nil
}

type VecXYZf struct {
	X float32 `cbor:"1,keyasint"`
	Y float32 `cbor:"2,keyasint"`
	Z float32 `cbor:"3,keyasint"`
}

type VecRGBf struct {
	R float32 `cbor:"1,keyasint"`
	G float32 `cbor:"2,keyasint"`
	B float32 `cbor:"3,keyasint"`
}

type AddObject struct {
	PointCloud *PointCloud `cbor:"1,keyasint,omitempty"`
	LineSet    *LineSet    `cbor:"2,keyasint,omitempty"`
	Mesh       *Mesh       `cbor:"3,keyasint,omitempty"`
	Overlay    *Overlay    `cbor:"4,keyasint,omitempty"`
	Image      *Image3D    `cbor:"5,keyasint,omitempty"`
}

func (a *AddObject) validate() error {
	if err := exactlyOne("add_object", count(a.PointCloud != nil, a.LineSet != nil, a.Mesh != nil, a.Overlay != nil, a.Image != nil)); err != nil {
		return err
	}
	if a.Overlay != nil {
		return a.Overlay.validate()
	}
	return nil
}

// PointCloud carries a PCD encoded cloud.
type PointCloud struct {
	PCDData   []byte  `cbor:"1,keyasint"`
	PointSize float32 `cbor:"2,keyasint"`
}

type LineSet struct {
	Points    []VecXYZf `cbor:"1,keyasint"`
	FromIndex []uint32  `cbor:"2,keyasint"`
	ToIndex   []uint32  `cbor:"3,keyasint"`
	Colors    []VecRGBf `cbor:"4,keyasint,omitempty"`
	Widths    []float32 `cbor:"5,keyasint,omitempty"`
}

type Mesh struct {
	Points       []VecXYZf `cbor:"1,keyasint"`
	VertexAIndex []uint32  `cbor:"2,keyasint"`
	VertexBIndex []uint32  `cbor:"3,keyasint"`
	VertexCIndex []uint32  `cbor:"4,keyasint"`
	Colors       []VecRGBf `cbor:"5,keyasint,omitempty"`
}

type CoordinateType uint8

const (
	WorldCoordinate CoordinateType = iota
	ScreenCoordinate
)

// Overlay is either an HTML fragment or an image pinned to a position.
type Overlay struct {
	Position VecXYZf        `cbor:"1,keyasint"`
	Type     CoordinateType `cbor:"2,keyasint"`
	HTML     *string        `cbor:"3,keyasint,omitempty"`
	Image    *OverlayImage  `cbor:"4,keyasint,omitempty"`
}

func (o *Overlay) validate() error {
	return exactlyOne("overlay", count(o.HTML != nil, o.Image != nil))
}

type OverlayImage struct {
	Data  []byte `cbor:"1,keyasint"`
	Width uint32 `cbor:"2,keyasint"`
}

// Image3D is an image pasted on a plane given by three corners.
type Image3D struct {
	Data       []byte  `cbor:"1,keyasint"`
	UpperLeft  VecXYZf `cbor:"2,keyasint"`
	LowerLeft  VecXYZf `cbor:"3,keyasint"`
	LowerRight VecXYZf `cbor:"4,keyasint"`
	DoubleSide bool    `cbor:"5,keyasint"`
}

type RemoveObject struct {
	All  *bool      `cbor:"1,keyasint,omitempty"`
	ByID *uuid.UUID `cbor:"2,keyasint,omitempty"`
}

func (r *RemoveObject) validate() error {
	return exactlyOne("remove_object", count(r.All != nil, r.ByID != nil))
}

type CameraMode uint8

const (
	CameraPerspective CameraMode = iota + 1
	CameraOrthographic
)

type SetCamera struct {
	Position                  *VecXYZf    `cbor:"1,keyasint,omitempty"`
	Target                    *VecXYZf    `cbor:"2,keyasint,omitempty"`
	Mode                      *CameraMode `cbor:"3,keyasint,omitempty"`
	PerspectiveFOV            *float32    `cbor:"4,keyasint,omitempty"`
	OrthographicFrustumHeight *float32    `cbor:"5,keyasint,omitempty"`
	Roll                      *Roll       `cbor:"6,keyasint,omitempty"`
	RollLock                  *bool       `cbor:"7,keyasint,omitempty"`
}

func (s *SetCamera) validate() error {
	return exactlyOne("set_camera", count(
		s.Position != nil, s.Target != nil, s.Mode != nil, s.PerspectiveFOV != nil,
		s.OrthographicFrustumHeight != nil, s.Roll != nil, s.RollLock != nil,
	))
}

type Roll struct {
	Angle float32 `cbor:"1,keyasint"`
	Up    VecXYZf `cbor:"2,keyasint"`
}

type SetCameraStateEventHandler struct {
	AddWithInterval *float32   `cbor:"1,keyasint,omitempty"`
	RemoveByID      *uuid.UUID `cbor:"2,keyasint,omitempty"`
	RemoveAll       *bool      `cbor:"3,keyasint,omitempty"`
}

func (s *SetCameraStateEventHandler) validate() error {
	return exactlyOne("set_camera_state_event_handler", count(s.AddWithInterval != nil, s.RemoveByID != nil, s.RemoveAll != nil))
}

// SetProperty assigns a scalar to a browser-side property path such as
// ["controls", "rotateSpeed"].
type SetProperty struct {
	Target      []string `cbor:"1,keyasint"`
	BoolValue   *bool    `cbor:"2,keyasint,omitempty"`
	IntValue    *int64   `cbor:"3,keyasint,omitempty"`
	FloatValue  *float64 `cbor:"4,keyasint,omitempty"`
	StringValue *string  `cbor:"5,keyasint,omitempty"`
}

func (s *SetProperty) validate() error {
	return exactlyOne("set_property", count(s.BoolValue != nil, s.IntValue != nil, s.FloatValue != nil, s.StringValue != nil))
}

type SetConfig struct {
	PanSpeed    *float32 `cbor:"1,keyasint,omitempty"`
	ZoomSpeed   *float32 `cbor:"2,keyasint,omitempty"`
	RotateSpeed *float32 `cbor:"3,keyasint,omitempty"`
	RollSpeed   *float32 `cbor:"4,keyasint,omitempty"`
}

func (s *SetConfig) validate() error {
	return exactlyOne("set_config", count(s.PanSpeed != nil, s.ZoomSpeed != nil, s.RotateSpeed != nil, s.RollSpeed != nil))
}

type CustomControl struct {
	Slider      *Slider      `cbor:"1,keyasint,omitempty"`
	CheckBox    *CheckBox    `cbor:"2,keyasint,omitempty"`
	TextBox     *TextBox     `cbor:"3,keyasint,omitempty"`
	SelectBox   *SelectBox   `cbor:"4,keyasint,omitempty"`
	Button      *Button      `cbor:"5,keyasint,omitempty"`
	ColorPicker *ColorPicker `cbor:"6,keyasint,omitempty"`
	Folder      *Folder      `cbor:"7,keyasint,omitempty"`
}

func (c *CustomControl) validate() error {
	return exactlyOne("custom_control", count(
		c.Slider != nil, c.CheckBox != nil, c.TextBox != nil, c.SelectBox != nil,
		c.Button != nil, c.ColorPicker != nil, c.Folder != nil,
	))
}

// Kind returns the control variant name.
func (c *CustomControl) Kind() string {
	switch {
	case c.Slider != nil:
		return "slider"
	case c.CheckBox != nil:
		return "checkbox"
	case c.TextBox != nil:
		return "textbox"
	case c.SelectBox != nil:
		return "selectbox"
	case c.Button != nil:
		return "button"
	case c.ColorPicker != nil:
		return "colorpicker"
	case c.Folder != nil:
		return "folder"
	}
	return ""
}

type Slider struct {
	Name      string    `cbor:"1,keyasint"`
	Min       float32   `cbor:"2,keyasint"`
	Max       float32   `cbor:"3,keyasint"`
	Step      float32   `cbor:"4,keyasint"`
	InitValue float32   `cbor:"5,keyasint"`
	Parent    uuid.UUID `cbor:"6,keyasint"`
}

type CheckBox struct {
	Name      string    `cbor:"1,keyasint"`
	InitValue bool      `cbor:"2,keyasint"`
	Parent    uuid.UUID `cbor:"3,keyasint"`
}

type TextBox struct {
	Name      string    `cbor:"1,keyasint"`
	InitValue string    `cbor:"2,keyasint"`
	Parent    uuid.UUID `cbor:"3,keyasint"`
}

type SelectBox struct {
	Name      string    `cbor:"1,keyasint"`
	Items     []string  `cbor:"2,keyasint"`
	InitValue string    `cbor:"3,keyasint"`
	Parent    uuid.UUID `cbor:"4,keyasint"`
}

type Button struct {
	Name   string    `cbor:"1,keyasint"`
	Parent uuid.UUID `cbor:"2,keyasint"`
}

type ColorPicker struct {
	Name      string    `cbor:"1,keyasint"`
	InitValue string    `cbor:"2,keyasint"`
	Parent    uuid.UUID `cbor:"3,keyasint"`
}

type Folder struct {
	Name   string    `cbor:"1,keyasint"`
	Parent uuid.UUID `cbor:"2,keyasint"`
}

// SetCustomControl updates an existing control. Unset optional fields are
// left unchanged by the browser.
type SetCustomControl struct {
	Target      uuid.UUID       `cbor:"1,keyasint"`
	Slider      *SetSlider      `cbor:"2,keyasint,omitempty"`
	CheckBox    *SetCheckBox    `cbor:"3,keyasint,omitempty"`
	TextBox     *SetTextBox     `cbor:"4,keyasint,omitempty"`
	SelectBox   *SetSelectBox   `cbor:"5,keyasint,omitempty"`
	Button      *SetButton      `cbor:"6,keyasint,omitempty"`
	ColorPicker *SetColorPicker `cbor:"7,keyasint,omitempty"`
}

func (s *SetCustomControl) validate() error {
	return exactlyOne("set_custom_control", count(
		s.Slider != nil, s.CheckBox != nil, s.TextBox != nil, s.SelectBox != nil,
		s.Button != nil, s.ColorPicker != nil,
	))
}

type SetSlider struct {
	Name  *string  `cbor:"1,keyasint,omitempty"`
	Min   *float32 `cbor:"2,keyasint,omitempty"`
	Max   *float32 `cbor:"3,keyasint,omitempty"`
	Step  *float32 `cbor:"4,keyasint,omitempty"`
	Value *float32 `cbor:"5,keyasint,omitempty"`
}

type SetCheckBox struct {
	Name  *string `cbor:"1,keyasint,omitempty"`
	Value *bool   `cbor:"2,keyasint,omitempty"`
}

type SetTextBox struct {
	Name  *string `cbor:"1,keyasint,omitempty"`
	Value *string `cbor:"2,keyasint,omitempty"`
}

type SetSelectBox struct {
	Name  *string  `cbor:"1,keyasint,omitempty"`
	Items []string `cbor:"2,keyasint,omitempty"`
	Value *string  `cbor:"3,keyasint,omitempty"`
}

type SetButton struct {
	Name *string `cbor:"1,keyasint,omitempty"`
}

type SetColorPicker struct {
	Name  *string `cbor:"1,keyasint,omitempty"`
	Value *string `cbor:"2,keyasint,omitempty"`
}

type RemoveCustomControl struct {
	All  *bool      `cbor:"1,keyasint,omitempty"`
	ByID *uuid.UUID `cbor:"2,keyasint,omitempty"`
}

func (r *RemoveCustomControl) validate() error {
	return exactlyOne("remove_custom_control", count(r.All != nil, r.ByID != nil))
}

// SetKeyEventHandler turns emission of one keyboard event kind on or off.
type SetKeyEventHandler struct {
	KeyUp    *bool `cbor:"1,keyasint,omitempty"`
	KeyDown  *bool `cbor:"2,keyasint,omitempty"`
	KeyPress *bool `cbor:"3,keyasint,omitempty"`
}

func (s *SetKeyEventHandler) validate() error {
	return exactlyOne("set_key_event_handler", count(s.KeyUp != nil, s.KeyDown != nil, s.KeyPress != nil))
}
