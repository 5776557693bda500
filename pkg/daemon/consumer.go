package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tiancaiamao/procguard/pkg/admission"
	"github.com/tiancaiamao/procguard/pkg/rpc"
)

const withdrawnMessage = "registration withdrawn by unregister"

// Consumer is the single reader of the delivery queue. It turns commands
// into controller calls and answers on the originating session.
//
// Register suspends until a slot is free, so each one runs on its own
// goroutine; Unregister and QueryStatus are applied inline.
type Consumer struct {
	ctrl   *admission.Controller
	queue  *rpc.Queue
	logger *slog.Logger

	mu      sync.Mutex
	pending map[int32]*pendingRegister
	wg      sync.WaitGroup
}

type pendingRegister struct {
	cancel    context.CancelFunc
	done      chan struct{}
	withdrawn bool // guarded by Consumer.mu
}

// NewConsumer creates a consumer for queue.
func NewConsumer(ctrl *admission.Controller, queue *rpc.Queue, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		ctrl:    ctrl,
		queue:   queue,
		logger:  logger.With("component", "consumer"),
		pending: make(map[int32]*pendingRegister),
	}
}

// Run drains the queue until ctx is cancelled. On return the queue is
// closed, so later deliveries are dropped by the server.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if n := c.queue.Close(); n > 0 {
			c.logger.Warn("dropped undelivered commands", "count", n)
		}
		c.wg.Wait()
	}()

	for {
		env, ok := c.queue.Pop(ctx)
		if !ok {
			return nil
		}
		c.Handle(ctx, env)
	}
}

// Handle processes a single envelope.
func (c *Consumer) Handle(ctx context.Context, env rpc.Envelope) {
	switch env.Command.Type {
	case rpc.CommandRegister:
		c.register(ctx, env.Session, env.Command.Register)
	case rpc.CommandUnregister:
		c.unregister(env.Session, env.Command.Unregister.Pid)
	case rpc.CommandQueryStatus:
		snap := c.ctrl.Snapshot()
		c.reply(env.Session, rpc.StatusReply(rpc.Status{
			ActiveCount:    snap.ActiveCount,
			QueueDepth:     snap.QueueDepth,
			ShouldThrottle: snap.ShouldThrottle,
		}))
	default:
		c.logger.Warn("unknown command", "type", env.Command.Type)
	}
}

// Pending returns the number of registrations still waiting for a slot.
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Consumer) register(ctx context.Context, sess rpc.Session, req *rpc.RegisterRequest) {
	pid := req.Pid

	c.mu.Lock()
	if _, busy := c.pending[pid]; busy {
		c.mu.Unlock()
		c.reply(sess, rpc.ErrorReply(pid, "registration already pending"))
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	p := &pendingRegister{cancel: cancel, done: make(chan struct{})}
	c.pending[pid] = p
	c.mu.Unlock()

	// A client that disconnects while waiting abandons the registration.
	var gone <-chan struct{}
	if sess != nil {
		gone = sess.Done()
	}
	go func() {
		select {
		case <-gone:
			cancel()
		case <-rctx.Done():
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		err := c.ctrl.Register(rctx, pid, req.Command, req.Args)

		c.mu.Lock()
		if c.pending[pid] == p {
			delete(c.pending, pid)
		}
		withdrawn := p.withdrawn
		c.mu.Unlock()
		close(p.done)

		switch {
		case err == nil:
			c.logger.Debug("process admitted", "pid", pid, "command", req.Command)
			c.reply(sess, rpc.RegisteredReply(pid))
		case withdrawn:
			c.reply(sess, rpc.ErrorReply(pid, withdrawnMessage))
		case ctx.Err() != nil:
			// Shutting down.
		case isDone(gone):
			c.logger.Info("client disconnected, registration abandoned", "pid", pid)
		default:
			if !errors.Is(err, admission.ErrAlreadyRegistered) {
				c.logger.Warn("register failed", "pid", pid, "error", err)
			}
			c.reply(sess, rpc.ErrorReply(pid, err.Error()))
		}
	}()
}

// unregister withdraws a still-pending registration for pid, then
// releases the slot if one is held.
func (c *Consumer) unregister(sess rpc.Session, pid int32) {
	c.mu.Lock()
	p, ok := c.pending[pid]
	if ok {
		p.withdrawn = true
		delete(c.pending, pid)
	}
	c.mu.Unlock()

	if ok {
		p.cancel()
		// The wait ends promptly; after it the record is either inserted
		// or never will be.
		<-p.done
	}

	released := c.ctrl.Unregister(pid)
	c.logger.Debug("process unregistered", "pid", pid, "released", released)
	c.reply(sess, rpc.UnregisteredReply(pid, released))
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (c *Consumer) reply(sess rpc.Session, r rpc.Reply) {
	if sess == nil {
		return
	}
	if err := sess.Reply(r); err != nil {
		c.logger.Debug("failed to send reply", "conn", sess.ID(), "type", r.Type, "error", err)
	}
}
