package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HsiangNianian/cumo/internal/logging"
	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// fakeViewer records every outbound command and optionally answers it.
type fakeViewer struct {
	t       *testing.T
	session *Session
	respond func(cmd *protocol.ServerCommand) []*protocol.ClientCommand

	mu   sync.Mutex
	sent []*protocol.ServerCommand
}

func (f *fakeViewer) Enqueue(frame protocol.Frame) {
	cmd, err := protocol.DecodeServer(frame)
	if !assert.NoError(f.t, err) {
		return
	}
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return
	}
	for _, reply := range respond(cmd) {
		f.deliver(reply)
	}
}

func (f *fakeViewer) deliver(cmd *protocol.ClientCommand) {
	frame, err := protocol.EncodeClient(cmd, false)
	if assert.NoError(f.t, err) {
		f.session.Deliver(frame)
	}
}

func (f *fakeViewer) sentCommands() []*protocol.ServerCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.ServerCommand(nil), f.sent...)
}

func succeed(cmd *protocol.ServerCommand) []*protocol.ClientCommand {
	return []*protocol.ClientCommand{{ID: cmd.ID, Result: &protocol.Result{Success: ptr(cmd.ID.String())}}}
}

func newTestSession(t *testing.T, respond func(*protocol.ServerCommand) []*protocol.ClientCommand) (*Session, *fakeViewer) {
	t.Helper()
	viewer := &fakeViewer{t: t, respond: respond}
	s := New(viewer, Options{Logger: logging.Discard(), UnclaimedLimit: 4})
	viewer.session = s

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, viewer
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (s *Session) unclaimedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unclaimed)
}

func TestRequestReturnsMatchingReply(t *testing.T) {
	s, viewer := newTestSession(t, func(cmd *protocol.ServerCommand) []*protocol.ClientCommand {
		other := &protocol.ClientCommand{ID: uuid.New(), Result: &protocol.Result{Success: ptr("not yours")}}
		return append([]*protocol.ClientCommand{other}, succeed(cmd)...)
	})

	ret, err := s.Request(testContext(t), &protocol.ServerCommand{LogMessage: ptr("hi")})
	require.NoError(t, err)
	sent := viewer.sentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].ID, ret.ID)
	assert.Equal(t, sent[0].ID.String(), *ret.Result.Success)
	require.Eventually(t, func() bool { return s.unclaimedLen() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Pending())
}

func TestConcurrentWaitsReceiveTheirOwnReplies(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	a, b := uuid.New(), uuid.New()
	require.NoError(t, s.Send(&protocol.ServerCommand{ID: a, CaptureScreen: ptr(true)}))
	require.NoError(t, s.Send(&protocol.ServerCommand{ID: b, LogMessage: ptr("b")}))

	ctx := testContext(t)
	type result struct {
		cmd *protocol.ClientCommand
		err error
	}
	results := make(map[uuid.UUID]chan result)
	for _, id := range []uuid.UUID{a, b} {
		ch := make(chan result, 1)
		results[id] = ch
		go func(id uuid.UUID) {
			cmd, err := s.WaitFor(ctx, id)
			ch <- result{cmd, err}
		}(id)
	}
	require.Eventually(t, func() bool { return s.Pending() == 2 }, time.Second, 5*time.Millisecond)

	viewer.deliver(&protocol.ClientCommand{ID: b, Result: &protocol.Result{Success: ptr("b")}})
	viewer.deliver(&protocol.ClientCommand{ID: a, Image: &protocol.Image{Data: []byte("png")}})

	ra := <-results[a]
	require.NoError(t, ra.err)
	assert.Equal(t, a, ra.cmd.ID)
	assert.Equal(t, []byte("png"), ra.cmd.Image.Data)

	rb := <-results[b]
	require.NoError(t, rb.err)
	assert.Equal(t, b, rb.cmd.ID)
	assert.Equal(t, "b", *rb.cmd.Result.Success)
}

func TestWaitForClaimsReplyThatArrivedFirst(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	id := uuid.New()
	viewer.deliver(&protocol.ClientCommand{ID: id, Result: &protocol.Result{Success: ptr("early")}})
	require.Eventually(t, func() bool { return s.unclaimedLen() == 1 }, time.Second, 5*time.Millisecond)

	cmd, err := s.WaitFor(testContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, "early", *cmd.Result.Success)
	assert.Equal(t, 0, s.unclaimedLen())
}

func TestUnclaimedRepliesAreBounded(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	ids := make([]uuid.UUID, 6)
	for i := range ids {
		ids[i] = uuid.New()
		viewer.deliver(&protocol.ClientCommand{ID: ids[i], Result: &protocol.Result{Success: ptr("x")}})
	}
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, newest := s.unclaimed[ids[5]]
		return newest
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, s.unclaimedLen())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.WaitFor(ctx, ids[0])
	assert.ErrorIs(t, err, context.DeadlineExceeded, "oldest reply should have been evicted")
}

func TestDecodeErrorAbortsOnlyTheOldestWait(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	ctx := testContext(t)
	first, second := uuid.New(), uuid.New()

	firstErr := make(chan error, 1)
	go func() {
		_, err := s.WaitFor(ctx, first)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)

	secondReply := make(chan *protocol.ClientCommand, 1)
	go func() {
		cmd, err := s.WaitFor(ctx, second)
		assert.NoError(t, err)
		secondReply <- cmd
	}()
	require.Eventually(t, func() bool { return s.Pending() == 2 }, time.Second, 5*time.Millisecond)

	s.Deliver(protocol.Frame{Data: []byte{0xff, 0xfe}})
	err := <-firstErr
	var decodeErr *protocol.DecodeError
	assert.True(t, errors.As(err, &decodeErr), "got %v", err)

	viewer.deliver(&protocol.ClientCommand{ID: second, Result: &protocol.Result{Success: ptr("ok")}})
	assert.Equal(t, second, (<-secondReply).ID)
}

func TestWaitForTimeoutDropsLateReply(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	id := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.WaitFor(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, s.Pending())

	viewer.deliver(&protocol.ClientCommand{ID: id, Result: &protocol.Result{Success: ptr("late")}})
	probe := uuid.New()
	viewer.deliver(&protocol.ClientCommand{ID: probe, Result: &protocol.Result{Success: ptr("probe")}})
	require.Eventually(t, func() bool { return s.unclaimedLen() == 1 }, time.Second, 5*time.Millisecond)
	s.mu.Lock()
	_, parked := s.unclaimed[id]
	s.mu.Unlock()
	assert.False(t, parked)
}

func TestDuplicateReplyIsDropped(t *testing.T) {
	s, _ := newTestSession(t, func(cmd *protocol.ServerCommand) []*protocol.ClientCommand {
		return append(succeed(cmd), succeed(cmd)...)
	})
	_, err := s.Request(testContext(t), &protocol.ServerCommand{SetEnable: ptr(true)})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, s.unclaimedLen())
}

func TestEventsAreNeverMatchedAgainstWaits(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	id := uuid.New()
	changed := make(chan protocol.Event, 1)
	s.Registry().Set(id, EventChanged, func(_ uuid.UUID, ev protocol.Event) { changed <- ev })

	waited := make(chan *protocol.ClientCommand, 1)
	go func() {
		cmd, err := s.WaitFor(testContext(t), id)
		assert.NoError(t, err)
		waited <- cmd
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)

	viewer.deliver(&protocol.ClientCommand{ID: id, ControlChanged: &protocol.ControlChanged{Number: ptr(42.0)}})
	assert.Equal(t, protocol.NumberValue(42), <-changed)
	assert.Equal(t, 1, s.Pending())

	viewer.deliver(&protocol.ClientCommand{ID: id, Result: &protocol.Result{Success: ptr("done")}})
	assert.Equal(t, "done", *(<-waited).Result.Success)
}

func TestKeyEventsFanOutInRegistrationOrder(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	var (
		mu    sync.Mutex
		calls []uuid.UUID
	)
	first, second, keydown := uuid.New(), uuid.New(), uuid.New()
	record := func(id uuid.UUID, ev protocol.Event) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, id)
		assert.Equal(t, "Enter", ev.(protocol.KeyboardEvent).Key)
	}
	s.Registry().Set(first, EventKeyUp, record)
	s.Registry().Set(second, EventKeyUp, record)
	s.Registry().Set(keydown, EventKeyDown, record)

	viewer.deliver(&protocol.ClientCommand{ID: uuid.New(), KeyEventOccurred: &protocol.KeyEventOccurred{
		KeyUp: &protocol.KeyEvent{Key: "Enter", Code: "Enter"},
	}})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []uuid.UUID{first, second}, calls)
	mu.Unlock()
}

func TestHandlerMayIssueBlockingRequests(t *testing.T) {
	s, viewer := newTestSession(t, func(cmd *protocol.ServerCommand) []*protocol.ClientCommand {
		if cmd.CaptureScreen != nil {
			return []*protocol.ClientCommand{{ID: cmd.ID, Image: &protocol.Image{Data: []byte("shot")}}}
		}
		return succeed(cmd)
	})
	button := uuid.New()
	shots := make(chan [][]byte, 1)
	s.Registry().Set(button, EventChanged, func(_ uuid.UUID, _ protocol.Event) {
		var got [][]byte
		for i := 0; i < 3; i++ {
			ret, err := s.Request(context.Background(), &protocol.ServerCommand{CaptureScreen: ptr(true)})
			if !assert.NoError(t, err) {
				break
			}
			got = append(got, ret.Image.Data)
		}
		shots <- got
	})

	viewer.deliver(&protocol.ClientCommand{ID: button, ControlChanged: &protocol.ControlChanged{Boolean: ptr(true)}})
	select {
	case got := <-shots:
		assert.Equal(t, [][]byte{[]byte("shot"), []byte("shot"), []byte("shot")}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not finish its requests")
	}
}

func TestHandlerPanicDoesNotStopEvents(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	id := uuid.New()
	calls := make(chan struct{}, 2)
	s.Registry().Set(id, EventCameraStateChanged, func(uuid.UUID, protocol.Event) {
		calls <- struct{}{}
		panic("boom")
	})
	for i := 0; i < 2; i++ {
		viewer.deliver(&protocol.ClientCommand{ID: id, CameraStateChanged: &protocol.CameraState{FOV: 45}})
	}
	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("camera handler not called")
		}
	}
}

func TestCallSurfacesFailure(t *testing.T) {
	s, _ := newTestSession(t, func(cmd *protocol.ServerCommand) []*protocol.ClientCommand {
		return []*protocol.ClientCommand{{ID: cmd.ID, Result: &protocol.Result{Failure: ptr("control not found")}}}
	})
	_, err := s.Call(testContext(t), &protocol.ServerCommand{RemoveCustomControl: &protocol.RemoveCustomControl{ByID: ptr(uuid.New())}})
	var failure *FailureError
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, "control not found", failure.Message)
}

func TestSendPreservesOrder(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	first := &protocol.ServerCommand{ID: uuid.New(), RemoveObject: &protocol.RemoveObject{All: ptr(true)}}
	second := &protocol.ServerCommand{ID: uuid.New(), AddObject: &protocol.AddObject{PointCloud: &protocol.PointCloud{PCDData: []byte("pcd")}}}
	require.NoError(t, s.Send(first))
	require.NoError(t, s.Send(second))

	sent := viewer.sentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, first.ID, sent[0].ID)
	assert.Equal(t, second.ID, sent[1].ID)
}

func TestSendRejectsInvalidCommand(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	err := s.Send(&protocol.ServerCommand{ID: uuid.New()})
	assert.ErrorIs(t, err, protocol.ErrNoVariant)
	assert.Empty(t, viewer.sentCommands())
}

func TestCloseFailsPendingWaits(t *testing.T) {
	s, _ := newTestSession(t, nil)
	errs := make(chan error, 1)
	go func() {
		_, err := s.Request(context.Background(), &protocol.ServerCommand{LogMessage: ptr("never answered")})
		errs <- err
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)

	s.Close()
	assert.ErrorIs(t, <-errs, ErrClosed)
	_, err := s.Request(context.Background(), &protocol.ServerCommand{LogMessage: ptr("after close")})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWaitForRejectsSecondWaiterOnSameID(t *testing.T) {
	s, _ := newTestSession(t, nil)
	id := uuid.New()
	go func() { _, _ = s.WaitFor(testContext(t), id) }()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.WaitFor(testContext(t), id)
	assert.ErrorIs(t, err, ErrAlreadyWaiting)
}

func TestRequestRejectsIDWithParkedReply(t *testing.T) {
	s, viewer := newTestSession(t, succeed)
	id := uuid.New()
	viewer.deliver(&protocol.ClientCommand{ID: id, Result: &protocol.Result{Success: ptr("early")}})
	require.Eventually(t, func() bool { return s.unclaimedLen() == 1 }, time.Second, 5*time.Millisecond)

	ret, err := s.Request(testContext(t), &protocol.ServerCommand{ID: id, LogMessage: ptr("late")})
	assert.ErrorIs(t, err, ErrAlreadyWaiting)
	assert.Nil(t, ret)
	assert.Empty(t, viewer.sentCommands())
	assert.Equal(t, 0, s.Pending())

	// the parked reply is still there for its real waiter
	cmd, err := s.WaitFor(testContext(t), id)
	require.NoError(t, err)
	assert.Equal(t, "early", *cmd.Result.Success)
}

func TestClaimedReplyDuplicateIsDropped(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	id, marker := uuid.New(), uuid.New()
	reply := &protocol.ClientCommand{ID: id, Result: &protocol.Result{Success: ptr("once")}}
	viewer.deliver(reply)
	require.Eventually(t, func() bool { return s.unclaimedLen() == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.WaitFor(testContext(t), id)
	require.NoError(t, err)

	viewer.deliver(reply)
	viewer.deliver(&protocol.ClientCommand{ID: marker, Result: &protocol.Result{Success: ptr("marker")}})
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.unclaimed[marker]
		return ok
	}, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	_, parked := s.unclaimed[id]
	s.mu.Unlock()
	assert.False(t, parked)
}

func TestRemovedHandlerIsNotInvoked(t *testing.T) {
	s, viewer := newTestSession(t, nil)
	var (
		mu            sync.Mutex
		first, second int
	)
	firstID, secondID := uuid.New(), uuid.New()
	s.Registry().Set(firstID, EventKeyDown, func(uuid.UUID, protocol.Event) {
		s.Registry().Remove(secondID, EventKeyDown)
		mu.Lock()
		first++
		mu.Unlock()
	})
	s.Registry().Set(secondID, EventKeyDown, func(uuid.UUID, protocol.Event) {
		mu.Lock()
		second++
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		viewer.deliver(&protocol.ClientCommand{ID: uuid.New(), KeyEventOccurred: &protocol.KeyEventOccurred{
			KeyDown: &protocol.KeyEvent{Key: "x", Code: "KeyX"},
		}})
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return first == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, second)
	mu.Unlock()
}

func TestInvokeSkipsRegistrationRemovedAfterSnapshot(t *testing.T) {
	s := New(&fakeViewer{t: t}, Options{Logger: logging.Discard()})
	id := uuid.New()
	called := false
	s.Registry().Set(id, EventChanged, func(uuid.UUID, protocol.Event) { called = true })

	snap := s.registry.snapshot(EventChanged)
	require.Len(t, snap, 1)
	s.Registry().Remove(id, EventChanged)
	s.invoke(snap[0], EventChanged, protocol.NumberValue(1))
	assert.False(t, called)
}
