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

import "golang.org/x/sys/unix"

const (
	// PathPrefix is prepended to logical channel names to form the bound
	// filesystem path.
	PathPrefix = "/tmp/"

	ShortestValidName = 1
	LongestValidName  = 100

	// MaxMessageSize bounds every message on the channel, including the
	// trailing NUL of the text envelope. Receive buffers are always this
	// large regardless of the per-channel cap.
	MaxMessageSize = 4096
)

// maxAddrPathLen is the capacity of sockaddr_un's path field. Bound paths
// must fit in maxAddrPathLen-1 to leave room for the terminator.
const maxAddrPathLen = len(unix.RawSockaddrUnix{}.Path)

// IsNameValid reports whether a channel name's length is within
// [ShortestValidName, LongestValidName]. Purely syntactic, never touches
// the filesystem.
func IsNameValid(name string) bool {
	return len(name) >= ShortestValidName && len(name) <= LongestValidName
}
