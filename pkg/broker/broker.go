/*
 * Copyright 2026 Floe Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package broker implements the central control-plane daemon. It owns a
// server channel on a well-known name, keeps a registry of live
// processes, answers their control messages and evicts the ones that
// stop sending keepalives or whose PID disappears.
package broker

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/floeipc/floe/internal/logging"
	"github.com/floeipc/floe/pkg/ipc"
)

var internalLogger = logging.Default

// EventType classifies registry changes recorded in the event journal.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventDeregistered
	EventEvicted
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventDeregistered:
		return "deregistered"
	case EventEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Event is one registry change.
type Event struct {
	Type    EventType
	Process string
	At      time.Time
}

type processInfo struct {
	name     string
	pid      int32
	lastSeen atomic.Int64 // unix nanos of the last message

	// reply is a client channel to the process's own channel. Sends are
	// serialized because Channel is not safe for concurrent use.
	replyMu sync.Mutex
	reply   *ipc.Channel
}

func (p *processInfo) touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

func (p *processInfo) send(msg string, timeout time.Duration) error {
	p.replyMu.Lock()
	defer p.replyMu.Unlock()
	return p.reply.TimedSend(msg, timeout)
}

// Broker is the control-plane daemon. Create one with New, run Serve in
// its own goroutine and stop it with Close.
type Broker struct {
	conf     *Config
	ch       *ipc.Channel
	pool     *ants.Pool
	registry cmap.ConcurrentMap[string, *processInfo]
	events   *queue.RingBuffer
	metrics  *metrics

	done        chan struct{}
	serving     atomic.Bool
	serveExited chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// New binds the broker's control channel and prepares the dispatch pool.
func New(conf *Config) (*Broker, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	ch, err := ipc.NewChannel(conf.ChannelName, ipc.ModeBlocking, ipc.SideServer, conf.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPool(conf.PoolSize)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	m, err := newMetrics(conf.Registry, conf.Meter)
	if err != nil {
		pool.Release()
		_ = ch.Close()
		return nil, err
	}
	return &Broker{
		conf:     conf,
		ch:       ch,
		pool:     pool,
		registry: cmap.New[*processInfo](),
		events:   queue.NewRingBuffer(conf.EventJournalCap),
		metrics:     m,
		done:        make(chan struct{}),
		serveExited: make(chan struct{}),
	}, nil
}

// Serve receives and dispatches control messages until Close. The receive
// loop polls with a short timeout so shutdown is observed; a lapsed
// timeout is the expected idle outcome.
func (b *Broker) Serve() error {
	b.serving.Store(true)
	defer close(b.serveExited)
	b.wg.Add(1)
	go b.monitorLoop()
	defer b.wg.Wait()

	for {
		select {
		case <-b.done:
			return nil
		default:
		}
		raw, err := b.ch.TimedReceive(b.conf.RecvPollInterval)
		if err != nil {
			if errors.Is(err, ipc.ErrTimeout) {
				continue
			}
			if errors.Is(err, ipc.ErrNotInitialized) {
				return nil
			}
			return err
		}
		b.metrics.received()
		if perr := b.pool.Submit(func() { b.dispatch(raw) }); perr != nil {
			b.metrics.dispatchError()
			internalLogger.Warnf("broker %q: dispatch submit failed: %v", b.conf.ChannelName, perr)
		}
	}
}

func (b *Broker) dispatch(raw string) {
	msg, err := ipc.ParseMessage(raw)
	if err != nil || msg.Len() == 0 {
		b.metrics.dispatchError()
		internalLogger.Warnf("broker %q: malformed control message %q", b.conf.ChannelName, raw)
		return
	}
	entries := msg.Entries()
	switch entries[0] {
	case ipc.OpRegister:
		b.handleRegister(entries)
	case ipc.OpKeepAlive:
		b.handleKeepAlive(entries)
	case ipc.OpDeregister:
		b.handleDeregister(entries)
	case ipc.OpPing:
		b.handlePing(entries)
	default:
		b.metrics.dispatchError()
		internalLogger.Warnf("broker %q: unknown operation %q", b.conf.ChannelName, entries[0])
	}
}

func (b *Broker) handleRegister(entries []string) {
	if len(entries) != 3 {
		b.metrics.dispatchError()
		return
	}
	name := entries[1]
	pid, err := strconv.ParseInt(entries[2], 10, 32)
	if err != nil {
		b.metrics.dispatchError()
		internalLogger.Warnf("broker %q: register with bad pid %q", b.conf.ChannelName, entries[2])
		return
	}
	reply, err := ipc.NewChannel(name, ipc.ModeBlocking, ipc.SideClient, b.conf.MaxMessageSize)
	if err != nil {
		b.metrics.dispatchError()
		internalLogger.Warnf("broker %q: cannot reach process channel %q: %v", b.conf.ChannelName, name, err)
		return
	}
	p := &processInfo{name: name, pid: int32(pid), reply: reply}
	p.touch()
	if old, ok := b.registry.Get(name); ok {
		// a re-register after a crash supersedes the stale entry
		b.dropProcess(old, EventEvicted)
	}
	b.registry.Set(name, p)
	b.metrics.setRegistered(b.registry.Count())
	b.recordEvent(Event{Type: EventRegistered, Process: name, At: time.Now()})
	b.reply(p, ipc.OpOK, ipc.OpRegister, name)
}

func (b *Broker) handleKeepAlive(entries []string) {
	if len(entries) != 2 {
		b.metrics.dispatchError()
		return
	}
	if p, ok := b.registry.Get(entries[1]); ok {
		p.touch()
	}
}

func (b *Broker) handleDeregister(entries []string) {
	if len(entries) != 2 {
		b.metrics.dispatchError()
		return
	}
	name := entries[1]
	p, ok := b.registry.Get(name)
	if !ok {
		return
	}
	// remove before acknowledging so the process observes a consistent
	// registry once the ack arrives
	b.registry.Remove(name)
	b.metrics.setRegistered(b.registry.Count())
	b.reply(p, ipc.OpOK, ipc.OpDeregister, name)
	b.dropProcess(p, EventDeregistered)
}

func (b *Broker) handlePing(entries []string) {
	if len(entries) != 2 {
		b.metrics.dispatchError()
		return
	}
	if p, ok := b.registry.Get(entries[1]); ok {
		p.touch()
		b.reply(p, ipc.OpPong, entries[1])
	}
}

func (b *Broker) reply(p *processInfo, entries ...string) {
	msg, err := ipc.NewMessage(entries...)
	if err != nil {
		b.metrics.dispatchError()
		return
	}
	if err := p.send(msg.Encode(), b.conf.ReplySendTimeout); err != nil {
		b.metrics.dispatchError()
		internalLogger.Warnf("broker %q: reply to %q failed: %v", b.conf.ChannelName, p.name, err)
	}
}

// dropProcess closes a process's reply channel and records the event. The
// caller removes it from the registry.
func (b *Broker) dropProcess(p *processInfo, t EventType) {
	p.replyMu.Lock()
	if err := p.reply.Close(); err != nil {
		internalLogger.Warnf("broker %q: closing reply channel of %q: %v", b.conf.ChannelName, p.name, err)
	}
	p.replyMu.Unlock()
	b.recordEvent(Event{Type: t, Process: p.name, At: time.Now()})
}

func (b *Broker) recordEvent(e Event) {
	if ok, err := b.events.Offer(e); err == nil && !ok {
		internalLogger.Tracef("broker %q: event journal full, dropping %s %q", b.conf.ChannelName, e.Type, e.Process)
	}
}

// NextEvent waits up to timeout for the next registry change. A zero
// timeout blocks until an event arrives or the broker is closed.
func (b *Broker) NextEvent(timeout time.Duration) (Event, error) {
	var (
		item interface{}
		err  error
	)
	if timeout <= 0 {
		item, err = b.events.Get()
	} else {
		item, err = b.events.Poll(timeout)
	}
	if err != nil {
		return Event{}, err
	}
	return item.(Event), nil
}

// Registered reports whether a process is currently in the registry.
func (b *Broker) Registered(name string) bool {
	return b.registry.Has(name)
}

// ProcessCount returns the number of registered processes.
func (b *Broker) ProcessCount() int {
	return b.registry.Count()
}

// Close stops the monitor and the receive loop, tears down the dispatch
// pool and releases the control channel. Idempotent.
func (b *Broker) Close() error {
	var cerr error
	b.closeOnce.Do(func() {
		close(b.done)
		// the serve loop wakes on its next poll timeout; the channel is
		// only torn down once nothing receives on it anymore
		if b.serving.Load() {
			<-b.serveExited
		}
		cerr = b.ch.Close()
		b.wg.Wait()
		b.pool.Release()
		for _, p := range b.registry.Items() {
			b.registry.Remove(p.name)
			b.dropProcess(p, EventDeregistered)
		}
		b.metrics.setRegistered(0)
		b.events.Dispose()
	})
	return cerr
}
