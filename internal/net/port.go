package net

import (
	"fmt"
	"net"
)

// GetEphemeralTCPPort returns a port on 127.0.0.1 that was free at the time of the call.
// The listener used to find it is closed before returning, so another process may still take it.
func GetEphemeralTCPPort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
