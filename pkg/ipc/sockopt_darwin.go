//go:build darwin

package ipc

// macOS ignores SO_SNDTIMEO on unix datagram sockets. A non-zero send
// timeout degrades to a blocking send with a per-call notice.
const sendTimeoutSupported = false
