package gatehouse

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	// IP discovery packets are a fixed 74 bytes: a 2 byte type, a 2 byte
	// length covering the remaining 70 bytes, the SSRC, a 64 byte address
	// field and a 2 byte port.
	discoveryPacketSize  = 74
	discoveryRequestType = 0x0001
	discoveryPayloadLen  = 70

	discoveryTimeout = 5 * time.Second
)

// buildDiscoveryPacket assembles the request the voice server echoes back
// with our public address filled in.
func buildDiscoveryPacket(ssrc uint32) []byte {
	packet := make([]byte, discoveryPacketSize)

	binary.BigEndian.PutUint16(packet[0:2], discoveryRequestType)
	binary.BigEndian.PutUint16(packet[2:4], discoveryPayloadLen)
	binary.BigEndian.PutUint32(packet[4:8], ssrc)

	return packet
}

// parseDiscoveryResponse extracts the public address from a discovery
// response. The first 4 bytes are unused, the address follows as a
// NUL-terminated ASCII string and the port occupies the final 2 bytes.
func parseDiscoveryResponse(packet []byte) (string, uint16, error) {
	if len(packet) < discoveryPacketSize {
		return "", 0, fmt.Errorf("%w: got %d bytes, want %d", ErrVoiceDiscoveryMalformed, len(packet), discoveryPacketSize)
	}

	addressField := packet[4 : len(packet)-2]

	terminator := bytes.IndexByte(addressField, 0)
	if terminator <= 0 {
		return "", 0, fmt.Errorf("%w: missing address", ErrVoiceDiscoveryMalformed)
	}

	address := string(addressField[:terminator])

	if net.ParseIP(address) == nil {
		return "", 0, fmt.Errorf("%w: invalid address %q", ErrVoiceDiscoveryMalformed, address)
	}

	port := binary.BigEndian.Uint16(packet[len(packet)-2:])
	if port == 0 {
		return "", 0, fmt.Errorf("%w: zero port", ErrVoiceDiscoveryMalformed)
	}

	return address, port, nil
}

// negotiateEncryptionMode picks the first locally preferred mode the server
// offers. Local priority wins over server ordering.
func negotiateEncryptionMode(local, offered []string) (string, error) {
	available := make(map[string]struct{}, len(offered))
	for _, mode := range offered {
		available[mode] = struct{}{}
	}

	for _, mode := range local {
		if _, ok := available[mode]; ok {
			return mode, nil
		}
	}

	return "", fmt.Errorf("%w: offered %v", ErrVoiceNoEncryptionMode, offered)
}

// discoverExternalAddress opens the media socket and runs IP discovery
// against the voice server, returning the publicly visible address along
// with the open socket for later media use.
func discoverExternalAddress(ctx context.Context, serverIP string, serverPort int32, ssrc uint32) (string, uint16, *net.UDPConn, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", serverIP, serverPort))
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to resolve voice server address: %w", err)
	}

	udpConn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to open media socket: %w", err)
	}

	deadline := time.Now().Add(discoveryTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	_ = udpConn.SetDeadline(deadline)

	_, err = udpConn.Write(buildDiscoveryPacket(ssrc))
	if err != nil {
		udpConn.Close()

		return "", 0, nil, fmt.Errorf("failed to send discovery packet: %w", err)
	}

	response := make([]byte, discoveryPacketSize)

	_, err = udpConn.Read(response)
	if err != nil {
		udpConn.Close()

		return "", 0, nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	_ = udpConn.SetDeadline(time.Time{})

	address, port, err := parseDiscoveryResponse(response)
	if err != nil {
		udpConn.Close()

		return "", 0, nil, err
	}

	return address, port, udpConn, nil
}
