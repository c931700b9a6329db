// Package session turns the single asynchronous viewer connection into
// blocking request/reply calls.
//
// One dispatcher goroutine (Run) is the only consumer of inbound frames. A
// reply is routed to the waiter registered for its correlation id; a reply
// that arrives before its waiter is parked until WaitFor claims it. Events
// are never matched against waiters: they go to a second goroutine that
// invokes registered handlers in arrival order, which leaves handlers free
// to issue blocking requests of their own.
package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/HsiangNianian/cumo/internal/protocol"
	"github.com/HsiangNianian/cumo/internal/store"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrClosed             = errors.New("session closed")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrAlreadyWaiting     = errors.New("correlation id already in use")
)

// FailureError carries the message of a result.failure reply.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string {
	return "viewer reported failure: " + e.Message
}

// Outbound accepts encoded frames for delivery in FIFO order.
type Outbound interface {
	Enqueue(protocol.Frame)
}

type Options struct {
	Logger *log.Entry
	// Store holds the ledger of answered ids. Defaults to a MemoryStore.
	Store          store.Store
	TextFrames     bool
	InboundBuffer  int
	UnclaimedLimit int
	ProcessedTTL   time.Duration
}

type reply struct {
	cmd *protocol.ClientCommand
	err error
}

type waiter struct {
	ch  chan reply
	seq uint64
}

type Session struct {
	log            *log.Entry
	out            Outbound
	store          store.Store
	registry       *Registry
	text           bool
	unclaimedLimit int
	processedTTL   time.Duration

	inbound chan protocol.Frame
	events  *eventQueue

	mu             sync.Mutex
	pending        map[uuid.UUID]*waiter
	seq            uint64
	unclaimed      map[uuid.UUID]*protocol.ClientCommand
	unclaimedOrder []uuid.UUID
	closed         bool

	done      chan struct{}
	closeOnce sync.Once
}

func New(out Outbound, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	st := opts.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	buffer := opts.InboundBuffer
	if buffer <= 0 {
		buffer = 256
	}
	limit := opts.UnclaimedLimit
	if limit <= 0 {
		limit = 1024
	}
	ttl := opts.ProcessedTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Session{
		log:            logger.WithField("component", "session"),
		out:            out,
		store:          st,
		registry:       NewRegistry(),
		text:           opts.TextFrames,
		unclaimedLimit: limit,
		processedTTL:   ttl,
		inbound:        make(chan protocol.Frame, buffer),
		events:         newEventQueue(),
		pending:        make(map[uuid.UUID]*waiter),
		unclaimed:      make(map[uuid.UUID]*protocol.ClientCommand),
		done:           make(chan struct{}),
	}
}

func (s *Session) Registry() *Registry {
	return s.registry
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver hands one inbound frame to the dispatcher. It is the transport's
// message callback and preserves arrival order.
func (s *Session) Deliver(f protocol.Frame) {
	select {
	case s.inbound <- f:
	case <-s.done:
	}
}

// Run dispatches inbound frames until ctx is done, then closes the session.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		s.runEvents(ctx)
	}()
	defer func() { <-eventsDone }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case f := <-s.inbound:
			s.dispatch(ctx, f)
		}
	}
}

// Close fails every pending wait with ErrClosed. Later calls fail too.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		waiters := s.pending
		s.pending = make(map[uuid.UUID]*waiter)
		s.mu.Unlock()

		for _, w := range waiters {
			w.ch <- reply{err: ErrClosed}
		}
		close(s.done)
	})
}

// Send encodes cmd and queues it for the viewer. cmd.ID must already be set.
func (s *Session) Send(cmd *protocol.ServerCommand) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	frame, err := protocol.EncodeServer(cmd, s.text)
	if err != nil {
		return err
	}
	s.out.Enqueue(frame)
	s.log.Debugf("send controller->viewer: id=%s kind=%s", cmd.ID, cmd.Kind())
	return nil
}

// WaitFor blocks until the reply carrying id arrives, a decode error is
// routed to this wait, the session closes, or ctx is done.
func (s *Session) WaitFor(ctx context.Context, id uuid.UUID) (*protocol.ClientCommand, error) {
	w, parked, err := s.register(id)
	if err != nil {
		return nil, err
	}
	if parked != nil {
		return parked, nil
	}
	return s.await(ctx, id, w)
}

// Request sends cmd and waits for the matching reply. A fresh correlation id
// is assigned unless the caller already set one, which lets handlers be
// registered under the id before the command leaves. A preset id that is
// already waited on or already has a parked reply is rejected with
// ErrAlreadyWaiting.
func (s *Session) Request(ctx context.Context, cmd *protocol.ServerCommand) (*protocol.ClientCommand, error) {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	w, err := s.registerFresh(cmd.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Send(cmd); err != nil {
		s.unregister(cmd.ID, w)
		return nil, err
	}
	return s.await(ctx, cmd.ID, w)
}

// Call is Request followed by the failure check every caller needs.
func (s *Session) Call(ctx context.Context, cmd *protocol.ServerCommand) (*protocol.ClientCommand, error) {
	ret, err := s.Request(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if ret.Result != nil && ret.Result.Failure != nil {
		return nil, &FailureError{Message: *ret.Result.Failure}
	}
	return ret, nil
}

// Pending returns the number of registered waiters.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) register(id uuid.UUID) (*waiter, *protocol.ClientCommand, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if cmd, ok := s.unclaimed[id]; ok {
		delete(s.unclaimed, id)
		s.dropUnclaimedOrderLocked(id)
		s.mu.Unlock()
		s.markProcessed(id)
		return nil, cmd, nil
	}
	w, err := s.addWaiterLocked(id)
	s.mu.Unlock()
	return w, nil, err
}

// registerFresh registers a waiter for a command that has not been sent
// yet. An id that already has a parked reply cannot be reused.
func (s *Session) registerFresh(id uuid.UUID) (*waiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.unclaimed[id]; ok {
		return nil, fmt.Errorf("%w: %s has an unclaimed reply", ErrAlreadyWaiting, id)
	}
	return s.addWaiterLocked(id)
}

func (s *Session) addWaiterLocked(id uuid.UUID) (*waiter, error) {
	if _, ok := s.pending[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyWaiting, id)
	}
	s.seq++
	w := &waiter{ch: make(chan reply, 1), seq: s.seq}
	s.pending[id] = w
	return w, nil
}

func (s *Session) unregister(id uuid.UUID, w *waiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[id] == w {
		delete(s.pending, id)
		return true
	}
	return false
}

func (s *Session) await(ctx context.Context, id uuid.UUID, w *waiter) (*protocol.ClientCommand, error) {
	select {
	case r := <-w.ch:
		return r.cmd, r.err
	case <-ctx.Done():
		if s.unregister(id, w) {
			// a reply arriving later is dropped as a duplicate instead of parked
			s.markProcessed(id)
			return nil, ctx.Err()
		}
		// the dispatcher already took the waiter; its reply is in flight
		r := <-w.ch
		return r.cmd, r.err
	}
}

func (s *Session) dispatch(ctx context.Context, f protocol.Frame) {
	cmd, err := protocol.DecodeClient(f)
	if err != nil {
		s.failOldest(err)
		return
	}
	s.log.Debugf("recv viewer->controller: id=%s kind=%s", cmd.ID, cmd.Kind())

	if cmd.IsEvent() {
		s.events.push(cmd)
		return
	}

	if s.deliver(cmd) {
		return
	}
	seen, err := s.store.IsProcessed(ctx, cmd.ID)
	if err != nil {
		s.log.Warnf("check processed failed: id=%s err=%v", cmd.ID, err)
	}
	if seen {
		s.log.Infof("drop duplicate reply: id=%s kind=%s", cmd.ID, cmd.Kind())
		return
	}

	s.mu.Lock()
	w, ok := s.pending[cmd.ID]
	if ok {
		delete(s.pending, cmd.ID)
	} else {
		s.parkLocked(cmd)
	}
	s.mu.Unlock()
	if ok {
		w.ch <- reply{cmd: cmd}
		s.markProcessed(cmd.ID)
	}
}

// deliver hands cmd to its waiter if one is registered.
func (s *Session) deliver(cmd *protocol.ClientCommand) bool {
	s.mu.Lock()
	w, ok := s.pending[cmd.ID]
	if ok {
		delete(s.pending, cmd.ID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.ch <- reply{cmd: cmd}
	s.markProcessed(cmd.ID)
	return true
}

func (s *Session) parkLocked(cmd *protocol.ClientCommand) {
	if _, ok := s.unclaimed[cmd.ID]; !ok {
		s.unclaimedOrder = append(s.unclaimedOrder, cmd.ID)
	}
	s.unclaimed[cmd.ID] = cmd
	for len(s.unclaimedOrder) > s.unclaimedLimit {
		oldest := s.unclaimedOrder[0]
		s.unclaimedOrder = s.unclaimedOrder[1:]
		delete(s.unclaimed, oldest)
		s.log.Warnf("evict unclaimed reply: id=%s limit=%d", oldest, s.unclaimedLimit)
	}
	s.log.Debugf("park unclaimed reply: id=%s kind=%s", cmd.ID, cmd.Kind())
}

func (s *Session) dropUnclaimedOrderLocked(id uuid.UUID) {
	for i, queued := range s.unclaimedOrder {
		if queued == id {
			s.unclaimedOrder = append(s.unclaimedOrder[:i], s.unclaimedOrder[i+1:]...)
			return
		}
	}
}

// failOldest aborts the longest-running wait with err. An undecodable frame
// has no usable id, so it cannot be matched to the waiter it was meant for.
func (s *Session) failOldest(err error) {
	s.mu.Lock()
	var (
		oldestID uuid.UUID
		oldest   *waiter
	)
	for id, w := range s.pending {
		if oldest == nil || w.seq < oldest.seq {
			oldestID, oldest = id, w
		}
	}
	if oldest != nil {
		delete(s.pending, oldestID)
	}
	s.mu.Unlock()

	if oldest == nil {
		s.log.Warnf("drop undecodable frame: err=%v", err)
		return
	}
	s.log.Warnf("abort wait on undecodable frame: id=%s err=%v", oldestID, err)
	oldest.ch <- reply{err: err}
}

func (s *Session) markProcessed(id uuid.UUID) {
	if err := s.store.MarkProcessed(context.Background(), id, s.processedTTL); err != nil {
		s.log.Warnf("mark processed failed: id=%s err=%v", id, err)
	}
}

func (s *Session) runEvents(ctx context.Context) {
	for {
		cmd, ok := s.events.pop(ctx, s.done)
		if !ok {
			return
		}
		s.handleEvent(cmd)
	}
}

func (s *Session) handleEvent(cmd *protocol.ClientCommand) {
	switch ev := cmd.Event().(type) {
	case protocol.NumberValue, protocol.TextValue, protocol.BoolValue:
		s.invokeOne(cmd.ID, EventChanged, ev)
	case protocol.CameraStateChanged:
		s.invokeOne(cmd.ID, EventCameraStateChanged, ev)
	case protocol.KeyboardEvent:
		name := EventName(ev.Type)
		for _, reg := range s.registry.snapshot(name) {
			s.invoke(reg, name, ev)
		}
	}
}

func (s *Session) invokeOne(id uuid.UUID, name EventName, ev protocol.Event) {
	reg := s.registry.lookup(id, name)
	if reg == nil {
		s.log.Debugf("no handler for event: id=%s event=%s", id, name)
		return
	}
	s.invoke(reg, name, ev)
}

func (s *Session) invoke(reg *registration, name EventName, ev protocol.Event) {
	if reg.handler == nil || reg.removed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("event handler panicked: id=%s event=%s panic=%v\n%s", reg.id, name, r, debug.Stack())
		}
	}()
	reg.handler(reg.id, ev)
}
