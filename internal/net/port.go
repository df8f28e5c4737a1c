package net

import (
	"fmt"
	"net"
)

// GetEphemeralTCPPort asks the OS for a free loopback port.
func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("resolving 127.0.0.1:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// LoopbackAddr returns addr if it names a port, else a loopback address on a free port.
func LoopbackAddr(addr string) (string, error) {
	if addr != "" {
		if _, port, err := net.SplitHostPort(addr); err == nil && port != "" && port != "0" {
			return addr, nil
		}
	}
	port, err := GetEphemeralTCPPort()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("127.0.0.1:%d", port), nil
}
