// Package viewer is the controller-side API of the browser point cloud
// viewer. Every operation builds one command, sends it over the session and
// blocks until the browser answers or the context ends.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HsiangNianian/cumo/internal/pcd"
	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/session"
	"github.com/HsiangNianian/cumo/internal/store"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrUnexpectedResponse is returned when the browser answers with a reply
	// of the wrong shape.
	ErrUnexpectedResponse = session.ErrUnexpectedResponse
	ErrClosed             = session.ErrClosed
)

// FailureError is returned when the browser reports that it could not apply
// a command.
type FailureError = session.FailureError

// ValidationError rejects an argument before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Well-known control ids created by the browser itself.
var (
	CustomRootID  = uuid.UUID{}
	RootID        = idFromInt(0x1)
	ControlsID    = idFromInt(0x2)
	CameraID      = idFromInt(0x3)
	RotateSpeedID = idFromInt(0x101)
	ZoomSpeedID   = idFromInt(0x102)
	PanSpeedID    = idFromInt(0x103)
	PerspectiveID = idFromInt(0x201)
)

func idFromInt(v uint16) uuid.UUID {
	var id uuid.UUID
	id[14] = byte(v >> 8)
	id[15] = byte(v)
	return id
}

type Options struct {
	Logger *log.Entry
	// Store records the objects and controls created through the viewer.
	// It should be the store the session uses for its reply ledger.
	Store store.Store
	// RequestTimeout bounds each operation whose context has no deadline.
	// Zero waits indefinitely.
	RequestTimeout time.Duration
	// DownSample defaults to random sampling.
	DownSample *pcd.DownSample
	MaxPoints  int
}

type Viewer struct {
	log        *log.Entry
	session    *session.Session
	store      store.Store
	timeout    time.Duration
	downSample pcd.DownSample
	maxPoints  int

	// serializes subscription toggles per key event kind
	keyMu map[session.EventName]*sync.Mutex
}

func New(s *session.Session, opts Options) *Viewer {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	ds := pcd.DownSample{Strategy: pcd.RandomSample}
	if opts.DownSample != nil {
		ds = *opts.DownSample
	}
	maxPoints := opts.MaxPoints
	if maxPoints <= 0 {
		maxPoints = pcd.DefaultMaxPoints
	}
	return &Viewer{
		log:        logger.WithField("component", "viewer"),
		session:    s,
		store:      st,
		timeout:    opts.RequestTimeout,
		downSample: ds,
		maxPoints:  maxPoints,
		keyMu: map[session.EventName]*sync.Mutex{
			session.EventKeyUp:    {},
			session.EventKeyDown:  {},
			session.EventKeyPress: {},
		},
	}
}

func (v *Viewer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || v.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.timeout)
}

// call sends cmd and returns the reply. A result.failure reply becomes a
// *FailureError.
func (v *Viewer) call(ctx context.Context, cmd *protocol.ServerCommand) (*protocol.ClientCommand, error) {
	ctx, cancel := v.withTimeout(ctx)
	defer cancel()
	ret, err := v.session.Call(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Kind(), err)
	}
	return ret, nil
}

func (v *Viewer) exec(ctx context.Context, cmd *protocol.ServerCommand) error {
	_, err := v.call(ctx, cmd)
	return err
}

// create runs an object- or control-creating command and returns the id the
// browser assigned, recording it in the scene store.
func (v *Viewer) create(ctx context.Context, cmd *protocol.ServerCommand, scope store.Scope, kind string) (uuid.UUID, error) {
	ret, err := v.call(ctx, cmd)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := successID(ret)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", cmd.Kind(), err)
	}
	if err := v.store.Put(ctx, scope, id, kind); err != nil {
		v.log.Warnf("record %s failed: id=%s kind=%s err=%v", scope, id, kind, err)
	}
	return id, nil
}

func successID(ret *protocol.ClientCommand) (uuid.UUID, error) {
	if ret.Result == nil || ret.Result.Success == nil {
		return uuid.Nil, fmt.Errorf("%w: want result.success, got %s", ErrUnexpectedResponse, ret.Kind())
	}
	id, err := uuid.Parse(*ret.Result.Success)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: success is not an id: %q", ErrUnexpectedResponse, *ret.Result.Success)
	}
	return id, nil
}

func (v *Viewer) forget(ctx context.Context, scope store.Scope, id *uuid.UUID) {
	var err error
	if id == nil {
		err = v.store.Clear(ctx, scope)
	} else {
		err = v.store.Delete(ctx, scope, *id)
	}
	if err != nil {
		v.log.Warnf("forget %s failed: err=%v", scope, err)
	}
}

// Objects lists the objects created through this viewer and not yet removed,
// keyed by id with their kind as value.
func (v *Viewer) Objects(ctx context.Context) (map[uuid.UUID]string, error) {
	return v.store.List(ctx, store.ScopeObject)
}

// Controls lists the custom controls created through this viewer.
func (v *Viewer) Controls(ctx context.Context) (map[uuid.UUID]string, error) {
	return v.store.List(ctx, store.ScopeControl)
}

// ConsoleLog runs console.log(message) in the browser.
func (v *Viewer) ConsoleLog(ctx context.Context, message string) error {
	return v.exec(ctx, &protocol.ServerCommand{LogMessage: &message})
}

// StopRender pauses drawing and camera controls in the browser.
func (v *Viewer) StopRender(ctx context.Context) error {
	return v.exec(ctx, &protocol.ServerCommand{SetEnable: ptr(false)})
}

func (v *Viewer) ResumeRender(ctx context.Context) error {
	return v.exec(ctx, &protocol.ServerCommand{SetEnable: ptr(true)})
}

// SetProperty assigns value to the browser-side property at path, for
// example []string{"controls", "rotateSpeed"}. value must be a bool, an
// integer, a float or a string.
func (v *Viewer) SetProperty(ctx context.Context, path []string, value any) error {
	if len(path) == 0 {
		return invalid("path", "must not be empty")
	}
	prop := &protocol.SetProperty{Target: path}
	switch val := value.(type) {
	case bool:
		prop.BoolValue = &val
	case int:
		prop.IntValue = ptr(int64(val))
	case int32:
		prop.IntValue = ptr(int64(val))
	case int64:
		prop.IntValue = &val
	case float32:
		prop.FloatValue = ptr(float64(val))
	case float64:
		prop.FloatValue = &val
	case string:
		prop.StringValue = &val
	default:
		return invalid("value", fmt.Sprintf("unsupported type %T", value))
	}
	return v.exec(ctx, &protocol.ServerCommand{SetProperty: prop})
}

func (v *Viewer) SetPanSpeed(ctx context.Context, speed float32) error {
	return v.setConfig(ctx, &protocol.SetConfig{PanSpeed: &speed})
}

func (v *Viewer) SetZoomSpeed(ctx context.Context, speed float32) error {
	return v.setConfig(ctx, &protocol.SetConfig{ZoomSpeed: &speed})
}

func (v *Viewer) SetRotateSpeed(ctx context.Context, speed float32) error {
	return v.setConfig(ctx, &protocol.SetConfig{RotateSpeed: &speed})
}

func (v *Viewer) SetRollSpeed(ctx context.Context, speed float32) error {
	return v.setConfig(ctx, &protocol.SetConfig{RollSpeed: &speed})
}

func (v *Viewer) setConfig(ctx context.Context, cfg *protocol.SetConfig) error {
	ret, err := v.call(ctx, &protocol.ServerCommand{SetConfig: cfg})
	if err != nil {
		return err
	}
	if ret.Result == nil || ret.Result.Success == nil {
		return fmt.Errorf("set_config: %w", ErrUnexpectedResponse)
	}
	return nil
}

// WaitForever blocks while the session serves events, returning when ctx is
// done or the session closes.
func (v *Viewer) WaitForever(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-v.session.Done():
		return ErrClosed
	}
}

func ptr[T any](v T) *T { return &v }
