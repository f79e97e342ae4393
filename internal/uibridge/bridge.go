// Package uibridge implements the UI-command long-poll bridge of SPEC_FULL
// §6: the runtime queues a command for a connected browser client, the
// client's long poll blocks until one is queued (or it times out), and a
// later POST resolves that command with a result the queuing side can
// retrieve.
//
// Grounded on internal/bus.Bus's waiter idiom (a per-key slice of pending
// waiters resolved FIFO-first, timeout via context): the same shape here,
// specialized to commands instead of messages and result-resolution
// instead of message-matching.
package uibridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownCommand is returned by Resolve when commandID was never queued
// (or was already resolved).
var ErrUnknownCommand = errors.New("ui command not found")

// Command is a single instruction queued for a browser client.
type Command struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
	Payload  any    `json:"payload"`
}

type waiter struct {
	clientID string
	result   chan *Command
}

type pendingResult struct {
	ready  chan struct{}
	result any
}

// Bridge holds per-client command queues and per-command result slots.
type Bridge struct {
	mu       sync.Mutex
	queued   map[string][]*Command
	waiters  []*waiter
	pending  map[string]*pendingResult
}

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{
		queued:  make(map[string][]*Command),
		pending: make(map[string]*pendingResult),
	}
}

// Push queues payload for clientID and returns the generated command id.
// If a long poll is already waiting for this client, it is woken
// immediately rather than the command sitting in the queue.
func (b *Bridge) Push(clientID string, payload any) string {
	cmd := &Command{ID: uuid.NewString(), ClientID: clientID, Payload: payload}

	b.mu.Lock()
	b.pending[cmd.ID] = &pendingResult{ready: make(chan struct{})}
	if w := b.resolveWaiter(clientID); w != nil {
		b.mu.Unlock()
		w.result <- cmd
		return cmd.ID
	}
	b.queued[clientID] = append(b.queued[clientID], cmd)
	b.mu.Unlock()
	return cmd.ID
}

// resolveWaiter must be called with b.mu held.
func (b *Bridge) resolveWaiter(clientID string) *waiter {
	for i, w := range b.waiters {
		if w.clientID == clientID {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return w
		}
	}
	return nil
}

// Poll returns the next queued command for clientID, blocking up to
// timeout if none is queued yet. Returns (nil, false) on timeout.
func (b *Bridge) Poll(ctx context.Context, clientID string, timeout time.Duration) (*Command, bool) {
	b.mu.Lock()
	if queue := b.queued[clientID]; len(queue) > 0 {
		cmd := queue[0]
		b.queued[clientID] = queue[1:]
		b.mu.Unlock()
		return cmd, true
	}
	w := &waiter{clientID: clientID, result: make(chan *Command, 1)}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cmd := <-w.result:
		return cmd, true
	case <-timer.C:
		b.removeWaiter(w)
		return nil, false
	case <-ctx.Done():
		b.removeWaiter(w)
		return nil, false
	}
}

func (b *Bridge) removeWaiter(target *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == target {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// Resolve records result for commandID and wakes any caller blocked in
// WaitResult. Returns ErrUnknownCommand if commandID is not pending.
func (b *Bridge) Resolve(commandID string, result any) error {
	b.mu.Lock()
	p, ok := b.pending[commandID]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownCommand
	}
	select {
	case <-p.ready:
		b.mu.Unlock()
		return ErrUnknownCommand
	default:
	}
	p.result = result
	close(p.ready)
	b.mu.Unlock()
	return nil
}

// WaitResult blocks until commandID is resolved or ctx ends, then removes
// its pending slot. Used by the queuing side to retrieve a command's
// outcome.
func (b *Bridge) WaitResult(ctx context.Context, commandID string) (any, error) {
	b.mu.Lock()
	p, ok := b.pending[commandID]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownCommand
	}

	select {
	case <-p.ready:
		b.mu.Lock()
		delete(b.pending, commandID)
		b.mu.Unlock()
		return p.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
