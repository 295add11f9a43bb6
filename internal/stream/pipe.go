package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/model/contract"
)

const DefaultBuffer = 64

// Producer writes events through emit until the backend is exhausted. emit fails once the
// consumer closed the stream or ctx is done.
type Producer func(ctx context.Context, emit func(contract.Event) error) error

// Pipe is a contract.EventStream fed by a producer goroutine over a bounded channel.
type Pipe struct {
	events  chan contract.Event
	cancel  context.CancelFunc
	err     error
	cleanup []func() error

	closeOnce sync.Once
	closeErr  error
}

// Go starts produce in its own goroutine. The producer context is cancelled on Close.
func Go(ctx context.Context, buffer int, produce Producer, cleanup ...func() error) *Pipe {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &Pipe{
		events:  make(chan contract.Event, buffer),
		cancel:  cancel,
		cleanup: cleanup,
	}

	go func() {
		defer close(p.events)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Stream producer panicked", "panic", r, "stack", string(debug.Stack()))
				p.err = sitewiseErrors.Internal(fmt.Sprintf("stream producer panicked: %v", r))
			}
		}()

		p.err = produce(pctx, func(ev contract.Event) error {
			select {
			case p.events <- ev:
				return nil
			case <-pctx.Done():
				return pctx.Err()
			}
		})
	}()

	return p
}

func (p *Pipe) Recv(ctx context.Context) (contract.Event, error) {
	select {
	case ev, ok := <-p.events:
		if !ok {
			if p.err != nil {
				return contract.Event{}, p.err
			}
			return contract.Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return contract.Event{}, ctx.Err()
	}
}

// Close cancels the producer, runs the cleanup funcs and waits for the producer to exit.
// Cleanup runs first so that a producer blocked reading a response body is released.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		for _, fn := range p.cleanup {
			if err := fn(); err != nil && p.closeErr == nil {
				p.closeErr = err
			}
		}
		for range p.events {
		}
	})
	return p.closeErr
}

type sliceStream struct {
	events []contract.Event
	pos    int
}

// FromEvents replays a fixed event sequence.
func FromEvents(events []contract.Event) contract.EventStream {
	return &sliceStream{events: events}
}

func (s *sliceStream) Recv(ctx context.Context) (contract.Event, error) {
	if err := ctx.Err(); err != nil {
		return contract.Event{}, err
	}
	if s.pos >= len(s.events) {
		return contract.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.events)
	return nil
}
