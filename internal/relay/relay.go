// Package relay copies call audio between the telephony leg and the agent session.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrLegClosed   = errors.New("relay: telephony leg closed")
	ErrAgentClosed = errors.New("relay: agent audio closed")
)

// Leg is the telephony side.
type Leg interface {
	Inbound() <-chan []byte
	Send(ctx context.Context, frame []byte) error
	Clear() error
	Done() <-chan struct{}
}

// Sink is the agent side.
type Sink interface {
	SendAudio(ctx context.Context, frame []byte) error
	Audio() <-chan []byte
}

// DefaultQueueFrames bounds each direction's backlog. At 20 ms per carrier frame
// this caps added latency near one second.
const DefaultQueueFrames = 50

type Options struct {
	QueueFrames int
	Log         *slog.Logger
}

// Stats is a snapshot of relay counters.
type Stats struct {
	UplinkFrames   int64 `json:"uplink_frames"`
	UplinkBytes    int64 `json:"uplink_bytes"`
	DownlinkFrames int64 `json:"downlink_frames"`
	DownlinkBytes  int64 `json:"downlink_bytes"`

	// Dropped frames were evicted from a full queue.
	Dropped int64 `json:"dropped"`
	// Discarded frames were queued but thrown away by barge-in or shutdown.
	Discarded     int64 `json:"discarded"`
	Interruptions int64 `json:"interruptions"`
}

// Relay runs two FIFO pumps, uplink (leg to agent) and downlink (agent to leg),
// each behind its own bounded queue. Frame order is preserved per direction.
type Relay struct {
	leg  Leg
	sink Sink
	log  *slog.Logger

	up   *frameQueue
	down *frameQueue

	upFrames, upBytes     atomic.Int64
	downFrames, downBytes atomic.Int64
	discarded             atomic.Int64
	interruptions         atomic.Int64
}

func New(leg Leg, sink Sink, opts Options) *Relay {
	if opts.QueueFrames <= 0 {
		opts.QueueFrames = DefaultQueueFrames
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Relay{
		leg:  leg,
		sink: sink,
		log:  opts.Log,
		up:   newFrameQueue(opts.QueueFrames),
		down: newFrameQueue(opts.QueueFrames),
	}
}

// Run forwards audio until ctx is canceled or either side ends.
// It returns nil on cancellation, ErrLegClosed or ErrAgentClosed when a side ends,
// or the first send error. Audio still queued on return is discarded.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once   sync.Once
		result error
	)
	stop := func(err error) {
		once.Do(func() { result = err })
		cancel()
	}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		r.collect(ctx, r.leg.Inbound(), r.up, func() { stop(ErrLegClosed) })
	}()
	go func() {
		defer wg.Done()
		r.collect(ctx, r.sink.Audio(), r.down, func() { stop(ErrAgentClosed) })
	}()
	go func() {
		defer wg.Done()
		r.drain(ctx, r.up, r.sink.SendAudio, &r.upFrames, &r.upBytes, func(err error) {
			stop(fmt.Errorf("relay: uplink send: %w", err))
		})
	}()
	go func() {
		defer wg.Done()
		r.drain(ctx, r.down, r.leg.Send, &r.downFrames, &r.downBytes, func(err error) {
			stop(fmt.Errorf("relay: downlink send: %w", err))
		})
	}()

	select {
	case <-ctx.Done():
	case <-r.leg.Done():
		stop(ErrLegClosed)
	}
	wg.Wait()

	if n := r.up.flush() + r.down.flush(); n > 0 {
		r.discarded.Add(int64(n))
		r.log.Debug("relay discarded queued audio", "frames", n)
	}
	return result
}

func (r *Relay) collect(ctx context.Context, in <-chan []byte, q *frameQueue, closed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				closed()
				return
			}
			if len(frame) == 0 {
				continue
			}
			q.push(frame)
		}
	}
}

func (r *Relay) drain(ctx context.Context, q *frameQueue, send func(context.Context, []byte) error, frames, bytes *atomic.Int64, failed func(error)) {
	for {
		frame, ok := q.pop(ctx)
		if !ok {
			return
		}
		if err := send(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			failed(err)
			return
		}
		frames.Add(1)
		bytes.Add(int64(len(frame)))
	}
}

// Interrupt handles barge-in: queued agent audio is dropped and the carrier is told
// to stop playing what it already buffered.
func (r *Relay) Interrupt() {
	n := r.down.flush()
	r.discarded.Add(int64(n))
	r.interruptions.Add(1)
	if err := r.leg.Clear(); err != nil {
		r.log.Debug("relay clear failed", "err", err)
	}
}

func (r *Relay) Stats() Stats {
	return Stats{
		UplinkFrames:   r.upFrames.Load(),
		UplinkBytes:    r.upBytes.Load(),
		DownlinkFrames: r.downFrames.Load(),
		DownlinkBytes:  r.downBytes.Load(),
		Dropped:        r.up.droppedCount() + r.down.droppedCount(),
		Discarded:      r.discarded.Load(),
		Interruptions:  r.interruptions.Load(),
	}
}
