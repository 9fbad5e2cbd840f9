//go:build linux

package ipc

// SO_SNDTIMEO is honored by the kernel for unix datagram sockets.
const sendTimeoutSupported = true
