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

package ipc

import (
	"errors"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// entrySeparator joins message entries on the wire. Entries must not
// contain it, nor a NUL, which terminates the channel's text envelope.
const entrySeparator = ','

// Control-plane operations carried as the first entry of a Message.
const (
	OpRegister   = "REG"
	OpDeregister = "DEREG"
	OpKeepAlive  = "KEEPALIVE"
	OpPing       = "PING"
	OpOK         = "OK"
	OpPong       = "PONG"
)

var (
	ErrInvalidEntry   = errors.New("message entry contains a separator or NUL byte")
	ErrMalformedWire  = errors.New("message is not terminated by a separator")
	ErrMessageIsEmpty = errors.New("message has no entries")
)

// Message is the textual control message exchanged between processes and
// the broker over a Channel. On the wire every entry is followed by a
// separator: "REG,web-gateway,4711,".
type Message struct {
	entries []string
}

// NewMessage builds a message from the given entries.
func NewMessage(entries ...string) (*Message, error) {
	m := &Message{entries: make([]string, 0, len(entries))}
	for _, e := range entries {
		if err := m.AddEntry(e); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddEntry appends one entry. Entries containing the separator or a NUL
// byte would not round-trip and are rejected.
func (m *Message) AddEntry(e string) error {
	if strings.IndexByte(e, entrySeparator) >= 0 || strings.IndexByte(e, 0) >= 0 {
		return ErrInvalidEntry
	}
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns the decoded entries in order.
func (m *Message) Entries() []string {
	return m.entries
}

// Len returns the number of entries.
func (m *Message) Len() int {
	return len(m.entries)
}

// Encode renders the wire form, every entry followed by a separator.
func (m *Message) Encode() string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	for _, e := range m.entries {
		_, _ = buf.WriteString(e)
		_ = buf.WriteByte(entrySeparator)
	}
	return buf.String()
}

// ParseMessage decodes the wire form produced by Encode.
func ParseMessage(s string) (*Message, error) {
	if s == "" {
		return nil, ErrMessageIsEmpty
	}
	if s[len(s)-1] != entrySeparator {
		return nil, ErrMalformedWire
	}
	entries := strings.Split(s[:len(s)-1], string(entrySeparator))
	return &Message{entries: entries}, nil
}
