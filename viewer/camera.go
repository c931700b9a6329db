package viewer

import (
	"context"
	"fmt"
	"math"

	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/session"
	"github.com/google/uuid"
)

type CameraMode int

const (
	Perspective  CameraMode = CameraMode(protocol.CameraPerspective)
	Orthographic CameraMode = CameraMode(protocol.CameraOrthographic)
)

func (m CameraMode) String() string {
	switch m {
	case Perspective:
		return "perspective"
	case Orthographic:
		return "orthographic"
	}
	return fmt.Sprintf("CameraMode(%d)", int(m))
}

type CameraState struct {
	Position      Vec3
	Target        Vec3
	Up            Vec3
	Mode          CameraMode
	RollLock      bool
	FOV           float32
	FrustumHeight float32
}

func cameraState(s protocol.CameraState) CameraState {
	vec := func(v protocol.VecXYZf) Vec3 { return Vec3{X: v.X, Y: v.Y, Z: v.Z} }
	mode := Orthographic
	if s.Mode == protocol.CameraPerspective {
		mode = Perspective
	}
	return CameraState{
		Position:      vec(s.Position),
		Target:        vec(s.Target),
		Up:            vec(s.Up),
		Mode:          mode,
		RollLock:      s.RollLock,
		FOV:           s.FOV,
		FrustumHeight: s.FrustumHeight,
	}
}

// CameraStateHandler is called with the id it was registered under.
type CameraStateHandler func(id uuid.UUID, state CameraState)

func (v *Viewer) setCamera(ctx context.Context, cam *protocol.SetCamera) error {
	return v.exec(ctx, &protocol.ServerCommand{SetCamera: cam})
}

func (v *Viewer) SetCameraPosition(ctx context.Context, pos Vec3) error {
	p := pos.wire()
	return v.setCamera(ctx, &protocol.SetCamera{Position: &p})
}

// SetCameraTarget points the camera at target.
func (v *Viewer) SetCameraTarget(ctx context.Context, target Vec3) error {
	t := target.wire()
	return v.setCamera(ctx, &protocol.SetCamera{Target: &t})
}

// SetOrthographicCamera switches to an orthographic camera. A non-nil
// frustumHeight also sets the frustum height; the width follows the window
// aspect ratio.
func (v *Viewer) SetOrthographicCamera(ctx context.Context, frustumHeight *float32) error {
	if frustumHeight != nil {
		return v.setCamera(ctx, &protocol.SetCamera{OrthographicFrustumHeight: frustumHeight})
	}
	mode := protocol.CameraOrthographic
	return v.setCamera(ctx, &protocol.SetCamera{Mode: &mode})
}

// SetPerspectiveCamera switches to a perspective camera, optionally with a
// new field of view.
func (v *Viewer) SetPerspectiveCamera(ctx context.Context, fov *float32) error {
	if fov != nil {
		return v.setCamera(ctx, &protocol.SetCamera{PerspectiveFOV: fov})
	}
	mode := protocol.CameraPerspective
	return v.setCamera(ctx, &protocol.SetCamera{Mode: &mode})
}

// SetCameraRoll rotates the camera around its line of sight. angle is in
// radians and measured from the orientation where up points to the top of
// the screen. up is normalised before sending and must not be zero.
func (v *Viewer) SetCameraRoll(ctx context.Context, angle float32, up Vec3) error {
	normSq := float64(up.X)*float64(up.X) + float64(up.Y)*float64(up.Y) + float64(up.Z)*float64(up.Z)
	if normSq == 0 {
		return invalid("up", "must not be zero")
	}
	norm := math.Sqrt(normSq)
	return v.setCamera(ctx, &protocol.SetCamera{Roll: &protocol.Roll{
		Angle: angle,
		Up: protocol.VecXYZf{
			X: float32(float64(up.X) / norm),
			Y: float32(float64(up.Y) / norm),
			Z: float32(float64(up.Z) / norm),
		},
	}})
}

// SetCameraRollLock keeps the top of the screen fixed and disables mouse
// gestures that would change it.
func (v *Viewer) SetCameraRollLock(ctx context.Context, enable bool) error {
	return v.setCamera(ctx, &protocol.SetCamera{RollLock: &enable})
}

func (v *Viewer) GetCameraState(ctx context.Context) (CameraState, error) {
	ret, err := v.call(ctx, &protocol.ServerCommand{GetCameraState: ptr(true)})
	if err != nil {
		return CameraState{}, err
	}
	if ret.CameraState == nil {
		return CameraState{}, fmt.Errorf("get_camera_state: %w: got %s", ErrUnexpectedResponse, ret.Kind())
	}
	return cameraState(*ret.CameraState), nil
}

// AddCameraStateChangedHandler asks the browser to report camera changes at
// most once per interval seconds and calls h for each report. The returned
// id removes the handler.
func (v *Viewer) AddCameraStateChangedHandler(ctx context.Context, interval float32, h CameraStateHandler) (uuid.UUID, error) {
	if interval < 0 || math.IsNaN(float64(interval)) || math.IsInf(float64(interval), 0) {
		return uuid.Nil, invalid("interval", "must be a finite number zero or greater")
	}
	id := uuid.New()
	v.session.Registry().Set(id, session.EventCameraStateChanged, func(id uuid.UUID, ev protocol.Event) {
		if changed, ok := ev.(protocol.CameraStateChanged); ok && h != nil {
			h(id, cameraState(changed.State))
		}
	})
	err := v.exec(ctx, &protocol.ServerCommand{ID: id, SetCameraStateEventHandler: &protocol.SetCameraStateEventHandler{
		AddWithInterval: &interval,
	}})
	if err != nil {
		v.session.Registry().Remove(id, session.EventCameraStateChanged)
		return uuid.Nil, err
	}
	return id, nil
}

func (v *Viewer) RemoveCameraStateChangedHandler(ctx context.Context, id uuid.UUID) error {
	if _, ok := v.session.Registry().Remove(id, session.EventCameraStateChanged); !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, id)
	}
	return v.exec(ctx, &protocol.ServerCommand{SetCameraStateEventHandler: &protocol.SetCameraStateEventHandler{
		RemoveByID: &id,
	}})
}

func (v *Viewer) RemoveAllCameraStateChangedHandlers(ctx context.Context) error {
	v.session.Registry().Clear(session.EventCameraStateChanged)
	return v.exec(ctx, &protocol.ServerCommand{SetCameraStateEventHandler: &protocol.SetCameraStateEventHandler{
		RemoveAll: ptr(true),
	}})
}
