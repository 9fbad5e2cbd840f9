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
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestTranslateErrno(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		kind  ErrorKind
	}{
		{unix.EACCES, KindAccessDenied},
		{unix.EAFNOSUPPORT, KindInvalidArguments},
		{unix.EINVAL, KindInvalidArguments},
		{unix.EPROTONOSUPPORT, KindInvalidArguments},
		{unix.ENOPROTOOPT, KindInvalidArguments},
		{unix.EMFILE, KindProcessLimit},
		{unix.ENFILE, KindSystemLimit},
		{unix.ENOBUFS, KindOutOfMemory},
		{unix.ENOMEM, KindOutOfMemory},
		{unix.EADDRINUSE, KindChannelAlreadyExists},
		{unix.EBADF, KindInvalidFileDescriptor},
		{unix.ENOTSOCK, KindInvalidFileDescriptor},
		{unix.EADDRNOTAVAIL, KindInvalidChannelName},
		{unix.EFAULT, KindInvalidChannelName},
		{unix.ELOOP, KindInvalidChannelName},
		{unix.ENAMETOOLONG, KindInvalidChannelName},
		{unix.ENOTDIR, KindInvalidChannelName},
		{unix.EROFS, KindInvalidChannelName},
		{unix.ENOENT, KindNoSuchChannel},
		{unix.ECONNREFUSED, KindNoSuchChannel},
		{unix.ECONNRESET, KindConnectionResetByPeer},
		{unix.EIO, KindIOError},
		{unix.EAGAIN, KindTimeout},
		{unix.EWOULDBLOCK, KindTimeout},
	}
	for _, c := range cases {
		err := translateErrno("test-channel", c.errno)
		assert.Equal(t, c.kind, err.Kind, "errno %d", int(c.errno))
		assert.Equal(t, c.errno, err.Errno)
	}
}

func TestTranslateErrnoCatchAll(t *testing.T) {
	// EINTR is deliberately not enumerated, a signal mid-syscall is a bug
	// in the caller's setup
	err := translateErrno("test-channel", unix.EINTR)
	assert.Equal(t, KindInternalLogicError, err.Kind)
}

func TestErrorIs(t *testing.T) {
	err := translateErrno("foo", unix.ENOENT)
	assert.True(t, errors.Is(err, ErrNoSuchChannel))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, unix.ENOENT))

	plain := newError("foo", KindMessageTooLong)
	assert.True(t, errors.Is(plain, ErrMessageTooLong))
	assert.Nil(t, plain.Unwrap())
}

func TestErrorString(t *testing.T) {
	err := translateErrno("foo", unix.ECONNRESET)
	assert.Contains(t, err.Error(), "foo")
	assert.Contains(t, err.Error(), "connection reset by peer")

	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "unknown", ErrorKind(200).String())
}
