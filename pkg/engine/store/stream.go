package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"AgentCore/pkg/engine/api"
)

// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
// ChannelEventStream
// ━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━

// ChannelEventStream is an EventStream backed by a buffered channel.
// The producer blocks once the buffer fills, so a caller that stops
// consuming also pauses the engine that feeds it.
type ChannelEventStream struct {
	ch     chan api.Event
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	err    error
}

// NewChannelEventStream creates a stream with the given buffer size.
func NewChannelEventStream(buffer int) *ChannelEventStream {
	return &ChannelEventStream{
		ch:   make(chan api.Event, buffer),
		done: make(chan struct{}),
	}
}

// Send delivers an event to the consumer. It blocks while the buffer
// is full and fails once the stream has been closed.
func (s *ChannelEventStream) Send(e api.Event) error {
	select {
	case <-s.done:
		return fmt.Errorf("send on closed event stream")
	case s.ch <- e:
		return nil
	}
}

// Recv returns the next event. Buffered events drain before the end
// of the stream is reported: a clean close yields io.EOF, a close via
// CloseWithError yields that error.
func (s *ChannelEventStream) Recv(ctx context.Context) (api.Event, error) {
	select {
	case e := <-s.ch:
		return e, nil
	default:
	}
	select {
	case <-ctx.Done():
		return api.Event{}, ctx.Err()
	case e := <-s.ch:
		return e, nil
	case <-s.done:
		select {
		case e := <-s.ch:
			return e, nil
		default:
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return api.Event{}, err
		}
		return api.Event{}, io.EOF
	}
}

// Close ends the stream cleanly. Safe to call more than once and from
// either side of the stream.
func (s *ChannelEventStream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError ends the stream and hands err to the consumer after
// the remaining buffered events drain. A nil err is a clean close.
// The first close wins.
func (s *ChannelEventStream) CloseWithError(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.err = err
	close(s.done)
	return nil
}
