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

// Package session is the process-side counterpart of the broker. A
// session owns two channels: a server channel under the process's own
// name, where broker replies arrive, and a client channel to the broker.
// Dial registers the process and starts the keepalive sender.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/floeipc/floe/internal/logging"
	"github.com/floeipc/floe/pkg/ipc"
)

var internalLogger = logging.Default

// ErrBadReply is returned when the broker answers with something other
// than the expected acknowledgment.
var ErrBadReply = errors.New("unexpected broker reply")

// Session is a registered connection to the broker. Request and Close
// may be called from any goroutine; the keepalive sender runs until
// Close.
type Session struct {
	conf *Config

	// reqMu serializes request round-trips: the reply channel carries
	// exactly one outstanding response at a time.
	reqMu    sync.Mutex
	reply    *ipc.Channel
	brokerCh *ipc.Channel

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial binds the process's reply channel, waits for the broker channel to
// appear, registers and starts the keepalive sender. Waiting uses
// exponential backoff because a missing broker is expected at startup;
// every other construction failure is permanent.
func Dial(conf *Config) (*Session, error) {
	if conf == nil {
		return nil, fmt.Errorf("session: config is nil")
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	reply, err := ipc.NewChannel(conf.Name, ipc.ModeBlocking, ipc.SideServer, conf.MaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("session: binding reply channel: %w", err)
	}

	s := &Session{
		conf:  conf,
		reply: reply,
		done:  make(chan struct{}),
	}

	connect := func() error {
		ch, cerr := ipc.NewChannel(conf.BrokerName, ipc.ModeBlocking, ipc.SideClient, conf.MaxMessageSize)
		if cerr != nil {
			if errors.Is(cerr, ipc.ErrNoSuchChannel) {
				return cerr
			}
			return backoff.Permanent(cerr)
		}
		s.brokerCh = ch
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = conf.DialTimeout
	if err := backoff.Retry(connect, bo); err != nil {
		_ = reply.Close()
		return nil, fmt.Errorf("session: connecting to broker %q: %w", conf.BrokerName, err)
	}

	if err := s.register(); err != nil {
		s.teardown()
		return nil, err
	}

	s.wg.Add(1)
	go s.keepAliveLoop()
	return s, nil
}

func (s *Session) register() error {
	pid := strconv.Itoa(os.Getpid())
	reply, err := s.roundTrip(context.Background(), ipc.OpRegister, s.conf.Name, pid)
	if err != nil {
		return fmt.Errorf("session: registering %q: %w", s.conf.Name, err)
	}
	if !isAck(reply, ipc.OpRegister, s.conf.Name) {
		return fmt.Errorf("session: registering %q: %w", s.conf.Name, ErrBadReply)
	}
	return nil
}

// Request sends one control message and waits for the broker's reply.
// The message is op followed by args as given; nothing is appended, so
// operations the broker answers per process take the process name in args.
func (s *Session) Request(ctx context.Context, op string, args ...string) (*ipc.Message, error) {
	if s.conf.Tracer != nil {
		var span trace.Span
		ctx, span = s.conf.Tracer.Start(ctx, "session.request")
		defer span.End()
		reply, err := s.roundTrip(ctx, op, args...)
		if err != nil {
			span.RecordError(err)
		}
		return reply, err
	}
	return s.roundTrip(ctx, op, args...)
}

func (s *Session) roundTrip(_ context.Context, op string, args ...string) (*ipc.Message, error) {
	entries := append([]string{op}, args...)
	msg, err := ipc.NewMessage(entries...)
	if err != nil {
		return nil, err
	}

	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if err := s.brokerCh.TimedSend(msg.Encode(), s.conf.RequestTimeout); err != nil {
		return nil, err
	}
	raw, err := s.reply.TimedReceive(s.conf.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return ipc.ParseMessage(raw)
}

func (s *Session) keepAliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.KeepAliveInterval)
	defer ticker.Stop()
	msg, err := ipc.NewMessage(ipc.OpKeepAlive, s.conf.Name)
	if err != nil {
		internalLogger.Errorf("session %q: building keepalive: %v", s.conf.Name, err)
		return
	}
	wire := msg.Encode()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.reqMu.Lock()
			err := s.brokerCh.TimedSend(wire, s.conf.KeepAliveInterval)
			s.reqMu.Unlock()
			if err != nil {
				internalLogger.Warnf("session %q: keepalive failed: %v", s.conf.Name, err)
			}
		}
	}
}

// Close deregisters from the broker and releases both channels.
// Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		reply, derr := s.roundTrip(context.Background(), ipc.OpDeregister, s.conf.Name)
		if derr != nil {
			err = fmt.Errorf("session: deregistering %q: %w", s.conf.Name, derr)
		} else if !isAck(reply, ipc.OpDeregister, s.conf.Name) {
			err = fmt.Errorf("session: deregistering %q: %w", s.conf.Name, ErrBadReply)
		}
		s.teardown()
	})
	return err
}

func (s *Session) teardown() {
	if s.brokerCh != nil {
		if cerr := s.brokerCh.Close(); cerr != nil {
			internalLogger.Warnf("session %q: closing broker channel: %v", s.conf.Name, cerr)
		}
	}
	if cerr := s.reply.Close(); cerr != nil {
		internalLogger.Warnf("session %q: closing reply channel: %v", s.conf.Name, cerr)
	}
}

// Name returns the process name the session registered under.
func (s *Session) Name() string {
	return s.conf.Name
}

func isAck(m *ipc.Message, op, name string) bool {
	e := m.Entries()
	return len(e) == 3 && e[0] == ipc.OpOK && e[1] == op && e[2] == name
}
