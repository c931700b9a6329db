package viewer

import (
	"context"
	"fmt"

	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/session"
	"github.com/HsiangNianian/cumo/internal/store"
	"github.com/google/uuid"
)

// ControlValue is the value a control reports when the user changes it:
// NumberValue for sliders, BoolValue for check boxes and buttons, TextValue
// for text boxes, select boxes and color pickers.
type ControlValue = protocol.Event

type (
	NumberValue = protocol.NumberValue
	TextValue   = protocol.TextValue
	BoolValue   = protocol.BoolValue
)

// ControlHandler is called with the id of the control that changed.
type ControlHandler func(id uuid.UUID, value ControlValue)

type Slider struct {
	Name           string
	Min, Max, Step float32
	InitValue      float32
	// Parent is a folder id. CustomRootID, the zero value, is the custom
	// controls folder.
	Parent uuid.UUID
}

type CheckBox struct {
	Name      string
	InitValue bool
	Parent    uuid.UUID
}

type TextBox struct {
	Name      string
	InitValue string
	Parent    uuid.UUID
}

type SelectBox struct {
	Name      string
	Items     []string
	InitValue string
	Parent    uuid.UUID
}

type ColorPicker struct {
	Name string
	// InitValue is a css color; empty means #000.
	InitValue string
	Parent    uuid.UUID
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// addControl registers onChanged under a fresh id, then creates the control
// with that id so no change event can arrive before its handler exists.
func (v *Viewer) addControl(ctx context.Context, ctl *protocol.CustomControl, onChanged ControlHandler) (uuid.UUID, error) {
	id := uuid.New()
	if onChanged != nil {
		v.session.Registry().Set(id, session.EventChanged, func(id uuid.UUID, ev protocol.Event) {
			onChanged(id, ev)
		})
	}
	created, err := v.create(ctx, &protocol.ServerCommand{ID: id, AddCustomControl: ctl}, store.ScopeControl, ctl.Kind())
	if err != nil {
		v.session.Registry().Remove(id, session.EventChanged)
		return uuid.Nil, err
	}
	return created, nil
}

func (v *Viewer) AddCustomSlider(ctx context.Context, s Slider, onChanged ControlHandler) (uuid.UUID, error) {
	if s.Max < s.Min {
		return uuid.Nil, invalid("max", "must not be less than min")
	}
	if s.Step < 0 {
		return uuid.Nil, invalid("step", "must not be negative")
	}
	step := s.Step
	if step == 0 {
		step = 1
	}
	return v.addControl(ctx, &protocol.CustomControl{Slider: &protocol.Slider{
		Name:      orDefault(s.Name, "slider"),
		Min:       s.Min,
		Max:       s.Max,
		Step:      step,
		InitValue: s.InitValue,
		Parent:    s.Parent,
	}}, onChanged)
}

func (v *Viewer) AddCustomCheckBox(ctx context.Context, c CheckBox, onChanged ControlHandler) (uuid.UUID, error) {
	return v.addControl(ctx, &protocol.CustomControl{CheckBox: &protocol.CheckBox{
		Name:      orDefault(c.Name, "checkbox"),
		InitValue: c.InitValue,
		Parent:    c.Parent,
	}}, onChanged)
}

func (v *Viewer) AddCustomTextBox(ctx context.Context, t TextBox, onChanged ControlHandler) (uuid.UUID, error) {
	return v.addControl(ctx, &protocol.CustomControl{TextBox: &protocol.TextBox{
		Name:      orDefault(t.Name, "textbox"),
		InitValue: t.InitValue,
		Parent:    t.Parent,
	}}, onChanged)
}

func (v *Viewer) AddCustomSelectBox(ctx context.Context, s SelectBox, onChanged ControlHandler) (uuid.UUID, error) {
	if len(s.Items) == 0 {
		return uuid.Nil, invalid("items", "must not be empty")
	}
	return v.addControl(ctx, &protocol.CustomControl{SelectBox: &protocol.SelectBox{
		Name:      orDefault(s.Name, "selectbox"),
		Items:     s.Items,
		InitValue: s.InitValue,
		Parent:    s.Parent,
	}}, onChanged)
}

// AddCustomButton adds a button whose handler receives BoolValue(true) on
// every click.
func (v *Viewer) AddCustomButton(ctx context.Context, name string, parent uuid.UUID, onClick ControlHandler) (uuid.UUID, error) {
	return v.addControl(ctx, &protocol.CustomControl{Button: &protocol.Button{
		Name:   orDefault(name, "button"),
		Parent: parent,
	}}, onClick)
}

func (v *Viewer) AddCustomColorPicker(ctx context.Context, c ColorPicker, onChanged ControlHandler) (uuid.UUID, error) {
	return v.addControl(ctx, &protocol.CustomControl{ColorPicker: &protocol.ColorPicker{
		Name:      orDefault(c.Name, "color"),
		InitValue: orDefault(c.InitValue, "#000"),
		Parent:    c.Parent,
	}}, onChanged)
}

// AddCustomFolder adds a folder other controls can use as Parent.
func (v *Viewer) AddCustomFolder(ctx context.Context, name string, parent uuid.UUID) (uuid.UUID, error) {
	return v.addControl(ctx, &protocol.CustomControl{Folder: &protocol.Folder{
		Name:   orDefault(name, "folder"),
		Parent: parent,
	}}, nil)
}

// SliderUpdate changes the non-nil fields of a slider.
type SliderUpdate struct {
	Name                  *string
	Min, Max, Step, Value *float32
}

type CheckBoxUpdate struct {
	Name  *string
	Value *bool
}

type TextBoxUpdate struct {
	Name  *string
	Value *string
}

type SelectBoxUpdate struct {
	Name  *string
	Items []string
	Value *string
}

type ColorPickerUpdate struct {
	Name  *string
	Value *string
}

// setControl applies an update to target. A non-nil onChanged replaces the
// control's handler before the update is sent.
func (v *Viewer) setControl(ctx context.Context, set *protocol.SetCustomControl, onChanged ControlHandler) error {
	if onChanged != nil {
		v.session.Registry().Set(set.Target, session.EventChanged, func(id uuid.UUID, ev protocol.Event) {
			onChanged(id, ev)
		})
	}
	ret, err := v.call(ctx, &protocol.ServerCommand{SetCustomControl: set})
	if err != nil {
		return err
	}
	if ret.Result == nil || ret.Result.Success == nil {
		return fmt.Errorf("set_custom_control: %w", ErrUnexpectedResponse)
	}
	return nil
}

func (v *Viewer) SetCustomSlider(ctx context.Context, target uuid.UUID, u SliderUpdate, onChanged ControlHandler) error {
	return v.setControl(ctx, &protocol.SetCustomControl{Target: target, Slider: &protocol.SetSlider{
		Name: u.Name, Min: u.Min, Max: u.Max, Step: u.Step, Value: u.Value,
	}}, onChanged)
}

func (v *Viewer) SetCustomCheckBox(ctx context.Context, target uuid.UUID, u CheckBoxUpdate, onChanged ControlHandler) error {
	return v.setControl(ctx, &protocol.SetCustomControl{Target: target, CheckBox: &protocol.SetCheckBox{
		Name: u.Name, Value: u.Value,
	}}, onChanged)
}

func (v *Viewer) SetCustomTextBox(ctx context.Context, target uuid.UUID, u TextBoxUpdate, onChanged ControlHandler) error {
	return v.setControl(ctx, &protocol.SetCustomControl{Target: target, TextBox: &protocol.SetTextBox{
		Name: u.Name, Value: u.Value,
	}}, onChanged)
}

func (v *Viewer) SetCustomSelectBox(ctx context.Context, target uuid.UUID, u SelectBoxUpdate, onChanged ControlHandler) error {
	return v.setControl(ctx, &protocol.SetCustomControl{Target: target, SelectBox: &protocol.SetSelectBox{
		Name: u.Name, Items: u.Items, Value: u.Value,
	}}, onChanged)
}

func (v *Viewer) SetCustomButton(ctx context.Context, target uuid.UUID, name *string, onClick ControlHandler) error {
	return v.setControl(ctx, &protocol.SetCustomControl{Target: target, Button: &protocol.SetButton{
		Name: name,
	}}, onClick)
}

func (v *Viewer) SetCustomColorPicker(ctx context.Context, target uuid.UUID, u ColorPickerUpdate, onChanged ControlHandler) error {
	return v.setControl(ctx, &protocol.SetCustomControl{Target: target, ColorPicker: &protocol.SetColorPicker{
		Name: u.Name, Value: u.Value,
	}}, onChanged)
}

// RemoveCustomControl deletes a control or folder and drops its handler.
func (v *Viewer) RemoveCustomControl(ctx context.Context, id uuid.UUID) error {
	if err := v.exec(ctx, &protocol.ServerCommand{RemoveCustomControl: &protocol.RemoveCustomControl{ByID: &id}}); err != nil {
		return err
	}
	v.session.Registry().Remove(id, session.EventChanged)
	v.forget(ctx, store.ScopeControl, &id)
	return nil
}

func (v *Viewer) RemoveAllCustomControls(ctx context.Context) error {
	if err := v.exec(ctx, &protocol.ServerCommand{RemoveCustomControl: &protocol.RemoveCustomControl{All: ptr(true)}}); err != nil {
		return err
	}
	v.session.Registry().Clear(session.EventChanged)
	v.forget(ctx, store.ScopeControl, nil)
	return nil
}
