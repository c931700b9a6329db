package protocol

import (
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestServerCommandRoundTrip(t *testing.T) {
	target := uuid.New()
	folder := uuid.New()
	cases := map[string]ServerCommand{
		"log":              {LogMessage: ptr("hello")},
		"capture":          {CaptureScreen: ptr(true)},
		"get camera state": {GetCameraState: ptr(true)},
		"enable":           {SetEnable: ptr(false)},
		"pointcloud": {AddObject: &AddObject{PointCloud: &PointCloud{
			PCDData: []byte("VERSION .7\n"), PointSize: 2,
		}}},
		"lineset": {AddObject: &AddObject{LineSet: &LineSet{
			Points:    []VecXYZf{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 2, Z: 3}},
			FromIndex: []uint32{0},
			ToIndex:   []uint32{1},
			Colors:    []VecRGBf{{R: 1}},
			Widths:    []float32{0.5},
		}}},
		"mesh": {AddObject: &AddObject{Mesh: &Mesh{
			Points:       []VecXYZf{{X: 0}, {X: 1}, {Y: 1}},
			VertexAIndex: []uint32{0},
			VertexBIndex: []uint32{1},
			VertexCIndex: []uint32{2},
			Colors:       []VecRGBf{{R: 1}, {G: 1}, {B: 0.5}},
		}}},
		"overlay html": {AddObject: &AddObject{Overlay: &Overlay{
			Position: VecXYZf{X: 1}, Type: ScreenCoordinate, HTML: ptr("<div>x</div>"),
		}}},
		"overlay image": {AddObject: &AddObject{Overlay: &Overlay{
			Position: VecXYZf{Z: -1}, Type: WorldCoordinate, Image: &OverlayImage{Data: []byte{0x89, 'P', 'N', 'G'}, Width: 64},
		}}},
		"image": {AddObject: &AddObject{Image: &Image3D{
			Data:       []byte{0xff, 0xd8},
			UpperLeft:  VecXYZf{Y: 1},
			LowerLeft:  VecXYZf{},
			LowerRight: VecXYZf{X: 1},
			DoubleSide: true,
		}}},
		"remove by id":        {RemoveObject: &RemoveObject{ByID: &target}},
		"remove all":          {RemoveObject: &RemoveObject{All: ptr(true)}},
		"camera position":     {SetCamera: &SetCamera{Position: &VecXYZf{X: 1, Y: 2, Z: 3}}},
		"camera target":       {SetCamera: &SetCamera{Target: &VecXYZf{Z: -4}}},
		"camera mode":         {SetCamera: &SetCamera{Mode: ptr(CameraOrthographic)}},
		"camera fov":          {SetCamera: &SetCamera{PerspectiveFOV: ptr(float32(45))}},
		"camera frustum":      {SetCamera: &SetCamera{OrthographicFrustumHeight: ptr(float32(12.5))}},
		"camera roll":         {SetCamera: &SetCamera{Roll: &Roll{Angle: 0.25, Up: VecXYZf{Y: 1}}}},
		"camera roll lock":    {SetCamera: &SetCamera{RollLock: ptr(true)}},
		"camera events add":   {SetCameraStateEventHandler: &SetCameraStateEventHandler{AddWithInterval: ptr(float32(0.1))}},
		"camera events by id": {SetCameraStateEventHandler: &SetCameraStateEventHandler{RemoveByID: &target}},
		"camera events all":   {SetCameraStateEventHandler: &SetCameraStateEventHandler{RemoveAll: ptr(true)}},
		"property bool":       {SetProperty: &SetProperty{Target: []string{"controls", "enabled"}, BoolValue: ptr(false)}},
		"property int":        {SetProperty: &SetProperty{Target: []string{"renderer", "pixelRatio"}, IntValue: ptr(int64(-2))}},
		"property float":      {SetProperty: &SetProperty{Target: []string{"controls", "rotateSpeed"}, FloatValue: ptr(1.5)}},
		"property string":     {SetProperty: &SetProperty{Target: []string{"scene", "name"}, StringValue: ptr("main")}},
		"config pan":          {SetConfig: &SetConfig{PanSpeed: ptr(float32(2))}},
		"config zoom":         {SetConfig: &SetConfig{ZoomSpeed: ptr(float32(0.5))}},
		"config rotate":       {SetConfig: &SetConfig{RotateSpeed: ptr(float32(3))}},
		"config roll":         {SetConfig: &SetConfig{RollSpeed: ptr(float32(1))}},
		"slider":              {AddCustomControl: &CustomControl{Slider: &Slider{Name: "s", Max: 100, Step: 1, InitValue: 50}}},
		"checkbox":            {AddCustomControl: &CustomControl{CheckBox: &CheckBox{Name: "c", InitValue: true, Parent: folder}}},
		"textbox":             {AddCustomControl: &CustomControl{TextBox: &TextBox{Name: "t", InitValue: "abc"}}},
		"selectbox":           {AddCustomControl: &CustomControl{SelectBox: &SelectBox{Name: "sel", Items: []string{"a", "b"}, InitValue: "b"}}},
		"button":              {AddCustomControl: &CustomControl{Button: &Button{Name: "start", Parent: folder}}},
		"colorpicker":         {AddCustomControl: &CustomControl{ColorPicker: &ColorPicker{Name: "color", InitValue: "#ff0000"}}},
		"folder":              {AddCustomControl: &CustomControl{Folder: &Folder{Name: "group"}}},
		"set slider":          {SetCustomControl: &SetCustomControl{Target: target, Slider: &SetSlider{Min: ptr(float32(-1)), Value: ptr(float32(0))}}},
		"set checkbox":        {SetCustomControl: &SetCustomControl{Target: target, CheckBox: &SetCheckBox{Value: ptr(true)}}},
		"set textbox":         {SetCustomControl: &SetCustomControl{Target: target, TextBox: &SetTextBox{Name: ptr("renamed")}}},
		"set selectbox":       {SetCustomControl: &SetCustomControl{Target: target, SelectBox: &SetSelectBox{Items: []string{"a", "b"}}}},
		"set button":          {SetCustomControl: &SetCustomControl{Target: target, Button: &SetButton{Name: ptr("stop")}}},
		"set colorpicker":     {SetCustomControl: &SetCustomControl{Target: target, ColorPicker: &SetColorPicker{Value: ptr("#00ff00")}}},
		"remove control":      {RemoveCustomControl: &RemoveCustomControl{ByID: &target}},
		"remove all controls": {RemoveCustomControl: &RemoveCustomControl{All: ptr(true)}},
		"keyup handler":       {SetKeyEventHandler: &SetKeyEventHandler{KeyUp: ptr(false)}},
		"keydown handler":     {SetKeyEventHandler: &SetKeyEventHandler{KeyDown: ptr(true)}},
		"keypress handler":    {SetKeyEventHandler: &SetKeyEventHandler{KeyPress: ptr(true)}},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			cmd.ID = uuid.New()
			for _, text := range []bool{true, false} {
				frame, err := EncodeServer(&cmd, text)
				require.NoError(t, err)
				assert.Equal(t, text, frame.Text)

				got, err := DecodeServer(frame)
				require.NoError(t, err)
				assert.Equal(t, cmd, *got)
			}
		})
	}
}

func TestClientCommandRoundTrip(t *testing.T) {
	state := CameraState{
		Position: VecXYZf{X: 1, Y: 2, Z: 3}, Target: VecXYZf{}, Up: VecXYZf{Y: 1},
		Mode: CameraOrthographic, RollLock: true, FOV: 60, FrustumHeight: 8,
	}
	cases := map[string]ClientCommand{
		"success":        {Result: &Result{Success: ptr(uuid.NewString())}},
		"failure":        {Result: &Result{Failure: ptr("control not found")}},
		"image":          {Image: &Image{Data: []byte{0x89, 'P', 'N', 'G'}}},
		"camera state":   {CameraState: &state},
		"number":         {ControlChanged: &ControlChanged{Number: ptr(0.5)}},
		"text":           {ControlChanged: &ControlChanged{Text: ptr("#ffffff")}},
		"boolean":        {ControlChanged: &ControlChanged{Boolean: ptr(true)}},
		"keyup":          {KeyEventOccurred: &KeyEventOccurred{KeyUp: &KeyEvent{Key: "Enter", Code: "Enter", Repeat: true}}},
		"keydown":        {KeyEventOccurred: &KeyEventOccurred{KeyDown: &KeyEvent{Key: "a", Code: "KeyA", ShiftKey: true}}},
		"keypress":       {KeyEventOccurred: &KeyEventOccurred{KeyPress: &KeyEvent{Key: "q", Code: "KeyQ", CtrlKey: true, AltKey: true, MetaKey: true}}},
		"camera changed": {CameraStateChanged: &state},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			cmd.ID = uuid.New()
			for _, text := range []bool{true, false} {
				frame, err := EncodeClient(&cmd, text)
				require.NoError(t, err)
				got, err := DecodeClient(frame)
				require.NoError(t, err)
				assert.Equal(t, cmd, *got)
			}
		})
	}
}

func TestEncodeRejectsInvalidEnvelope(t *testing.T) {
	_, err := EncodeServer(&ServerCommand{ID: uuid.New()}, true)
	assert.ErrorIs(t, err, ErrNoVariant)

	_, err = EncodeServer(&ServerCommand{ID: uuid.New(), LogMessage: ptr("a"), SetEnable: ptr(true)}, true)
	assert.ErrorIs(t, err, ErrMultipleVariants)

	_, err = EncodeServer(&ServerCommand{ID: uuid.New(), SetCamera: &SetCamera{}}, true)
	assert.ErrorIs(t, err, ErrNoVariant)
}

func TestDecodeClientErrors(t *testing.T) {
	id := uuid.New()
	mustCBOR := func(v any) []byte {
		b, err := cbor.Marshal(v)
		require.NoError(t, err)
		return b
	}

	cases := map[string]Frame{
		"empty":          {Data: nil},
		"garbage":        {Data: []byte{0xff, 0x00, 0x13}},
		"bad base64":     {Text: true, Data: []byte("%%%not-base64")},
		"short id":       {Data: mustCBOR(map[int]any{1: []byte{1, 2, 3}, 2: map[int]any{1: "ok"}})},
		"hex id":         {Data: mustCBOR(map[int]any{1: id.String(), 2: map[int]any{1: "ok"}})},
		"unknown field":  {Data: mustCBOR(map[int]any{1: id[:], 2: map[int]any{1: "ok"}, 99: true})},
		"no variant":     {Data: mustCBOR(map[int]any{1: id[:]})},
		"two variants":   {Data: mustCBOR(map[int]any{1: id[:], 2: map[int]any{1: "ok"}, 3: map[int]any{1: []byte{1}}})},
		"empty result":   {Data: mustCBOR(map[int]any{1: id[:], 2: map[int]any{}})},
		"trailing bytes": {Data: append(mustCBOR(map[int]any{1: id[:], 2: map[int]any{1: "ok"}}), 0x01)},
		"missing id":     {Data: mustCBOR(map[int]any{2: map[int]any{1: "ok"}})},
		"not a map":      {Data: mustCBOR([]any{id[:], "ok"})},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			cmd, err := DecodeClient(frame)
			require.Error(t, err)
			assert.Nil(t, cmd)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "want DecodeError, got %T", err)
		})
	}
}

func TestDecodeRequiresID(t *testing.T) {
	raw, err := cbor.Marshal(map[int]any{2: map[int]any{1: "ok"}})
	require.NoError(t, err)
	_, err = DecodeClient(Frame{Data: raw})
	assert.ErrorIs(t, err, ErrMissingID)

	raw, err = cbor.Marshal(map[int]any{2: "hello"})
	require.NoError(t, err)
	_, err = DecodeServer(Frame{Data: raw})
	assert.ErrorIs(t, err, ErrMissingID)

	// an explicit nil id is still an id
	raw, err = cbor.Marshal(map[int]any{1: make([]byte, 16), 2: "hello"})
	require.NoError(t, err)
	cmd, err := DecodeServer(Frame{Data: raw})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, cmd.ID)
}

func TestClientCommandEvent(t *testing.T) {
	cmd := &ClientCommand{KeyEventOccurred: &KeyEventOccurred{KeyPress: &KeyEvent{Key: "q"}}}
	require.True(t, cmd.IsEvent())
	ev, ok := cmd.Event().(KeyboardEvent)
	require.True(t, ok)
	assert.Equal(t, KeyPress, ev.Type)
	assert.Equal(t, "q", ev.Key)

	cmd = &ClientCommand{ControlChanged: &ControlChanged{Boolean: ptr(true)}}
	assert.Equal(t, BoolValue(true), cmd.Event())

	cmd = &ClientCommand{Result: &Result{Success: ptr("x")}}
	assert.False(t, cmd.IsEvent())
	assert.Nil(t, cmd.Event())
}
