package viewer

import (
	"context"
	"fmt"

	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/session"
	"github.com/google/uuid"
)

// KeyboardEvent mirrors the browser KeyboardEvent fields.
type KeyboardEvent struct {
	// Type is "keyup", "keydown" or "keypress".
	Type     string
	Key      string
	Code     string
	ShiftKey bool
	AltKey   bool
	CtrlKey  bool
	MetaKey  bool
	Repeat   bool
}

type KeyHandler func(id uuid.UUID, ev KeyboardEvent)

func (v *Viewer) AddKeyUpHandler(ctx context.Context, h KeyHandler) (uuid.UUID, error) {
	return v.addKeyHandler(ctx, session.EventKeyUp, h)
}

func (v *Viewer) RemoveKeyUpHandler(ctx context.Context, id uuid.UUID) error {
	return v.removeKeyHandler(ctx, session.EventKeyUp, id)
}

func (v *Viewer) AddKeyDownHandler(ctx context.Context, h KeyHandler) (uuid.UUID, error) {
	return v.addKeyHandler(ctx, session.EventKeyDown, h)
}

func (v *Viewer) RemoveKeyDownHandler(ctx context.Context, id uuid.UUID) error {
	return v.removeKeyHandler(ctx, session.EventKeyDown, id)
}

func (v *Viewer) AddKeyPressHandler(ctx context.Context, h KeyHandler) (uuid.UUID, error) {
	return v.addKeyHandler(ctx, session.EventKeyPress, h)
}

func (v *Viewer) RemoveKeyPressHandler(ctx context.Context, id uuid.UUID) error {
	return v.removeKeyHandler(ctx, session.EventKeyPress, id)
}

func keyToggle(name session.EventName, on bool) *protocol.ServerCommand {
	toggle := &protocol.SetKeyEventHandler{}
	switch name {
	case session.EventKeyUp:
		toggle.KeyUp = &on
	case session.EventKeyDown:
		toggle.KeyDown = &on
	case session.EventKeyPress:
		toggle.KeyPress = &on
	}
	return &protocol.ServerCommand{SetKeyEventHandler: toggle}
}

// addKeyHandler registers h and turns the browser subscription on when h is
// the first handler of its kind.
func (v *Viewer) addKeyHandler(ctx context.Context, name session.EventName, h KeyHandler) (uuid.UUID, error) {
	mu := v.keyMu[name]
	mu.Lock()
	defer mu.Unlock()

	id := uuid.New()
	n := v.session.Registry().Set(id, name, func(id uuid.UUID, ev protocol.Event) {
		kev, ok := ev.(protocol.KeyboardEvent)
		if !ok || h == nil {
			return
		}
		h(id, KeyboardEvent{
			Type:     string(kev.Type),
			Key:      kev.Key,
			Code:     kev.Code,
			ShiftKey: kev.ShiftKey,
			AltKey:   kev.AltKey,
			CtrlKey:  kev.CtrlKey,
			MetaKey:  kev.MetaKey,
			Repeat:   kev.Repeat,
		})
	})
	if n > 1 {
		return id, nil
	}
	if err := v.exec(ctx, keyToggle(name, true)); err != nil {
		v.session.Registry().Remove(id, name)
		return uuid.Nil, err
	}
	return id, nil
}

// removeKeyHandler drops one handler and turns the subscription off when it
// was the last of its kind.
func (v *Viewer) removeKeyHandler(ctx context.Context, name session.EventName, id uuid.UUID) error {
	mu := v.keyMu[name]
	mu.Lock()
	defer mu.Unlock()

	left, ok := v.session.Registry().Remove(id, name)
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrHandlerNotFound, name, id)
	}
	if left > 0 {
		return nil
	}
	return v.exec(ctx, keyToggle(name, false))
}
