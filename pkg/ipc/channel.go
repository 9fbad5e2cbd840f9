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

// Package ipc implements the unix domain socket control channel used for
// out-of-band messages between processes and the broker. The channel is
// strictly datagram oriented: one message per datagram, bounded length,
// text envelope with a trailing NUL. Servers bind and receive, clients
// connect and send.
package ipc

import (
	"bytes"
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Side selects the channel role. It is fixed at construction.
type Side uint8

const (
	// SideServer binds the filesystem path and receives.
	SideServer Side = iota
	// SideClient connects to an existing path and sends.
	SideClient
)

func (s Side) String() string {
	switch s {
	case SideServer:
		return "server"
	case SideClient:
		return "client"
	default:
		return "unknown"
	}
}

// Mode selects the blocking behavior. Only ModeBlocking is supported,
// per-call timeouts cover the non-blocking use cases.
type Mode uint8

const (
	ModeBlocking Mode = iota
	ModeNonBlocking
)

const invalidFd = -1

// Channel is one endpoint of the control channel. A Channel returned by
// NewChannel or NewChannelNoPrefix is ready for use; after Close every
// send and receive reports KindNotInitialized. A Channel owns exactly one socket
// descriptor and, on the server side, the filesystem entry at its bound
// path. Channels are not safe for concurrent use.
type Channel struct {
	name           string // fully qualified bound path
	side           Side
	maxMessageSize int
	sockfd         int
	ready          bool
}

// NewChannel creates a channel endpoint on PathPrefix + name. The logical
// name is validated before the prefix is applied. A maxMessageSize of zero
// selects MaxMessageSize.
func NewChannel(name string, mode Mode, side Side, maxMessageSize int) (*Channel, error) {
	if !IsNameValid(name) {
		return nil, newError(name, KindInvalidChannelName)
	}
	return newChannel(PathPrefix+name, mode, side, maxMessageSize)
}

// NewChannelNoPrefix creates a channel endpoint on an already qualified
// path. The supplied path is validated verbatim.
func NewChannelNoPrefix(path string, mode Mode, side Side, maxMessageSize int) (*Channel, error) {
	if !IsNameValid(path) {
		return nil, newError(path, KindInvalidChannelName)
	}
	return newChannel(path, mode, side, maxMessageSize)
}

// newChannel runs the construction on a bound path whose name has already
// been validated.
func newChannel(path string, mode Mode, side Side, maxMessageSize int) (*Channel, error) {
	if maxMessageSize == 0 {
		maxMessageSize = MaxMessageSize
	}
	if maxMessageSize > MaxMessageSize {
		return nil, newError(path, KindMaxMessageSizeExceeded)
	}
	if maxMessageSize < 0 || mode == ModeNonBlocking {
		// timeouts on send and receive are the only supported form of
		// bounded blocking
		return nil, newError(path, KindInvalidArguments)
	}
	if len(path) > maxAddrPathLen-1 {
		return nil, newError(path, KindInvalidChannelName)
	}

	c := &Channel{
		name:           path,
		side:           side,
		maxMessageSize: maxMessageSize,
		sockfd:         invalidFd,
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, translateErrno(path, asErrno(err))
	}

	addr := &unix.SockaddrUnix{Name: path}
	if side == SideServer {
		// reclaim a stale entry left behind by a crashed predecessor
		_ = unix.Unlink(path)
		if err := unix.Bind(fd, addr); err != nil {
			if cerr := c.closeFd(fd); cerr != nil {
				return nil, cerr
			}
			return nil, translateErrno(path, asErrno(err))
		}
	} else {
		// a connected socket makes a missing server visible at
		// construction time instead of at the first send
		if err := unix.Connect(fd, addr); err != nil {
			if cerr := c.closeFd(fd); cerr != nil {
				return nil, cerr
			}
			return nil, translateErrno(path, asErrno(err))
		}
	}

	c.sockfd = fd
	c.ready = true
	return c, nil
}

// Close releases the socket descriptor and, on the server side, unlinks
// the bound path. Closing an already closed channel is a no-op.
func (c *Channel) Close() error {
	if !c.ready {
		return nil
	}
	if err := c.closeFd(c.sockfd); err != nil {
		return err
	}
	return nil
}

func (c *Channel) closeFd(fd int) *Error {
	if err := unix.Close(fd); err != nil {
		return translateErrno(c.name, asErrno(err))
	}
	if c.side == SideServer {
		_ = unix.Unlink(c.name)
	}
	c.sockfd = invalidFd
	c.ready = false
	return nil
}

// Send transmits one message without a timeout. Equivalent to
// TimedSend(msg, 0).
func (c *Channel) Send(msg string) error {
	return c.TimedSend(msg, 0)
}

// TimedSend transmits one message, blocking at most timeout. A zero
// timeout blocks until the kernel accepts the datagram. Only the client
// side may send.
func (c *Channel) TimedSend(msg string, timeout time.Duration) error {
	if !c.ready {
		return newError(c.name, KindNotInitialized)
	}
	if len(msg)+1 >= c.maxMessageSize {
		// the trailing NUL counts against the cap
		return newError(c.name, KindMessageTooLong)
	}
	if c.side == SideServer {
		internalLogger.Errorf("sending on server side not supported for ipc channel %q", c.name)
		return newError(c.name, KindInternalLogicError)
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if !sendTimeoutSupported && timeout != 0 {
		internalLogger.Infof("ipc channel %q: send timeouts are not supported on this platform, sending without timeout", c.name)
		tv = unix.Timeval{}
	}
	if err := unix.SetsockoptTimeval(c.sockfd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return translateErrno(c.name, asErrno(err))
	}

	buf := make([]byte, len(msg)+1)
	copy(buf, msg)
	if err := unix.Sendto(c.sockfd, buf, 0, nil); err != nil {
		return translateErrno(c.name, asErrno(err))
	}
	return nil
}

// Receive waits for one message without a timeout. Equivalent to
// TimedReceive(0).
func (c *Channel) Receive() (string, error) {
	return c.TimedReceive(0)
}

// TimedReceive waits up to timeout for one message. A zero timeout blocks
// until a message arrives. A lapsed timeout returns KindTimeout, which is
// an expected outcome and is never logged. Only the server side may
// receive.
func (c *Channel) TimedReceive(timeout time.Duration) (string, error) {
	if !c.ready {
		return "", newError(c.name, KindNotInitialized)
	}
	if c.side == SideClient {
		internalLogger.Errorf("receiving on client side not supported for ipc channel %q", c.name)
		return "", newError(c.name, KindInternalLogicError)
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(c.sockfd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return "", translateErrno(c.name, asErrno(err))
	}

	// one extra byte holds the safety terminator, the kernel only ever
	// writes the first MaxMessageSize bytes
	buf := make([]byte, MaxMessageSize+1)
	_, _, err := unix.Recvfrom(c.sockfd, buf[:MaxMessageSize], 0)
	if err != nil {
		return "", translateErrno(c.name, asErrno(err))
	}
	buf[MaxMessageSize] = 0
	end := bytes.IndexByte(buf, 0)
	return string(buf[:end]), nil
}

// Ready reports whether the channel owns a usable descriptor.
func (c *Channel) Ready() bool {
	return c.ready
}

// Name returns the fully qualified bound path.
func (c *Channel) Name() string {
	return c.name
}

// Side returns the channel role.
func (c *Channel) Side() Side {
	return c.side
}

// MaxMessageSize returns the per-channel message cap.
func (c *Channel) MaxMessageSize() int {
	return c.maxMessageSize
}

// UnlinkIfExists removes a stale endpoint at PathPrefix + name. It
// reports whether a filesystem entry was removed; a missing entry is not
// an error. Intended for reclaiming endpoints left behind by a crashed
// server.
func UnlinkIfExists(name string) (bool, error) {
	if !IsNameValid(name) {
		return false, newError(name, KindInvalidChannelName)
	}
	return unlinkIfExists(PathPrefix + name)
}

// UnlinkIfExistsNoPrefix removes a stale endpoint at an already qualified
// path.
func UnlinkIfExistsNoPrefix(path string) (bool, error) {
	if !IsNameValid(path) {
		return false, newError(path, KindInvalidChannelName)
	}
	return unlinkIfExists(path)
}

func unlinkIfExists(path string) (bool, error) {
	err := unix.Unlink(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	return false, newError(path, KindInternalLogicError)
}

func asErrno(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
