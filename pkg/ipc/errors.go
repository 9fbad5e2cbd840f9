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
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrorKind classifies every failure a channel operation can produce.
// Kernel error numbers are folded into one of these kinds; the originating
// errno stays available on Error for errors.Is checks.
type ErrorKind uint8

const (
	KindUndefined ErrorKind = iota
	KindNotInitialized
	KindInvalidChannelName
	KindInvalidArguments
	KindMaxMessageSizeExceeded
	KindMessageTooLong
	KindAccessDenied
	KindProcessLimit
	KindSystemLimit
	KindOutOfMemory
	KindChannelAlreadyExists
	KindInvalidFileDescriptor
	KindNoSuchChannel
	KindConnectionResetByPeer
	KindIOError
	KindTimeout
	KindInternalLogicError
)

var kindName = []string{
	"undefined",
	"not initialized",
	"invalid channel name",
	"invalid arguments",
	"max message size exceeded",
	"message too long",
	"access denied",
	"process limit reached",
	"system limit reached",
	"out of memory",
	"channel already exists",
	"invalid file descriptor",
	"no such channel",
	"connection reset by peer",
	"i/o error",
	"timeout",
	"internal logic error",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindName) {
		return kindName[k]
	}
	return "unknown"
}

// Error is the error type returned by every fallible channel operation.
// Errno is zero when the failure did not originate in a system call.
type Error struct {
	Kind    ErrorKind
	Channel string
	Errno   unix.Errno
}

func (e *Error) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("ipc channel %q: %s (errno %d)", e.Channel, e.Kind, int(e.Errno))
	}
	return fmt.Sprintf("ipc channel %q: %s", e.Channel, e.Kind)
}

// Is makes errors.Is(err, ErrTimeout) and friends match on the kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unwrap exposes the originating errno for errors.Is(err, unix.ENOENT) style checks.
func (e *Error) Unwrap() error {
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Sentinels for errors.Is checks. Operations return richer *Error values
// carrying the channel name and errno.
var (
	ErrNotInitialized         = &Error{Kind: KindNotInitialized}
	ErrInvalidChannelName     = &Error{Kind: KindInvalidChannelName}
	ErrInvalidArguments       = &Error{Kind: KindInvalidArguments}
	ErrMaxMessageSizeExceeded = &Error{Kind: KindMaxMessageSizeExceeded}
	ErrMessageTooLong         = &Error{Kind: KindMessageTooLong}
	ErrAccessDenied           = &Error{Kind: KindAccessDenied}
	ErrProcessLimit           = &Error{Kind: KindProcessLimit}
	ErrSystemLimit            = &Error{Kind: KindSystemLimit}
	ErrOutOfMemory            = &Error{Kind: KindOutOfMemory}
	ErrChannelAlreadyExists   = &Error{Kind: KindChannelAlreadyExists}
	ErrInvalidFileDescriptor  = &Error{Kind: KindInvalidFileDescriptor}
	ErrNoSuchChannel          = &Error{Kind: KindNoSuchChannel}
	ErrConnectionReset        = &Error{Kind: KindConnectionResetByPeer}
	ErrIO                     = &Error{Kind: KindIOError}
	ErrTimeout                = &Error{Kind: KindTimeout}
	ErrInternalLogic          = &Error{Kind: KindInternalLogicError}
)

// errnoKind is the authoritative errno translation table. EWOULDBLOCK is
// the same value as EAGAIN on every platform we build for, so a single
// entry covers both.
var errnoKind = map[unix.Errno]ErrorKind{
	unix.EACCES:          KindAccessDenied,
	unix.EAFNOSUPPORT:    KindInvalidArguments,
	unix.EINVAL:          KindInvalidArguments,
	unix.EPROTONOSUPPORT: KindInvalidArguments,
	unix.ENOPROTOOPT:     KindInvalidArguments,
	unix.EMFILE:          KindProcessLimit,
	unix.ENFILE:          KindSystemLimit,
	unix.ENOBUFS:         KindOutOfMemory,
	unix.ENOMEM:          KindOutOfMemory,
	unix.EADDRINUSE:      KindChannelAlreadyExists,
	unix.EBADF:           KindInvalidFileDescriptor,
	unix.ENOTSOCK:        KindInvalidFileDescriptor,
	unix.EADDRNOTAVAIL:   KindInvalidChannelName,
	unix.EFAULT:          KindInvalidChannelName,
	unix.ELOOP:           KindInvalidChannelName,
	unix.ENAMETOOLONG:    KindInvalidChannelName,
	unix.ENOTDIR:         KindInvalidChannelName,
	unix.EROFS:           KindInvalidChannelName,
	unix.ENOENT:          KindNoSuchChannel,
	unix.ECONNREFUSED:    KindNoSuchChannel,
	unix.ECONNRESET:      KindConnectionResetByPeer,
	unix.EIO:             KindIOError,
	unix.EAGAIN:          KindTimeout,
}

// translateErrno folds a kernel error number into the domain taxonomy.
// Any errno outside the table is a bug somewhere, the catch-all branch is
// the only place that logs.
func translateErrno(channel string, errno unix.Errno) *Error {
	if kind, ok := errnoKind[errno]; ok {
		return &Error{Kind: kind, Channel: channel, Errno: errno}
	}
	internalLogger.Errorf("internal logic error in ipc channel %q occurred, unexpected errno %d (%s)",
		channel, int(errno), errno.Error())
	return &Error{Kind: KindInternalLogicError, Channel: channel, Errno: errno}
}

func newError(channel string, kind ErrorKind) *Error {
	return &Error{Kind: kind, Channel: channel}
}
