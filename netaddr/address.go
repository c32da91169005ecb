// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netaddr implements a protocol-tagged network address: the IP
// plus port pair a socket binds to or a peer connects from, immutable once
// constructed.
package netaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Protocol tags an address as IPv4 or IPv6.
type Protocol int

const (
	IPv4 Protocol = iota
	IPv6
)

func (p Protocol) String() string {
	if p == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// Address is an immutable, protocol-tagged socket address.
type Address struct {
	protocol Protocol
	ip       net.IP
	port     uint16
}

// New builds an Address from a textual IP and a port. The protocol tag is
// inferred from the shape of ip.
func New(ip string, port uint16) (Address, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Address{}, fmt.Errorf("netaddr: invalid ip %q", ip)
	}
	proto := IPv4
	if parsed.To4() == nil {
		proto = IPv6
	}
	return Address{protocol: proto, ip: parsed, port: port}, nil
}

// Parse splits a "host:port" string into an Address.
func Parse(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, fmt.Errorf("netaddr: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("netaddr: invalid port %q: %w", portStr, err)
	}
	return New(host, uint16(port))
}

// Protocol reports whether this address is IPv4 or IPv6.
func (a Address) Protocol() Protocol { return a.protocol }

// IP returns the address's IP.
func (a Address) IP() net.IP { return a.ip }

// Port returns the address's port.
func (a Address) Port() uint16 { return a.port }

// String renders "<ip> @ <port>", matching the original implementation's
// textual form.
func (a Address) String() string {
	return fmt.Sprintf("%s @ %d", a.ip.String(), a.port)
}

// HostPort renders "host:port", the form net.Dial and net.Listen expect.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.ip.String(), strconv.FormatUint(uint64(a.port), 10))
}

// Sockaddr yields the unix.Sockaddr used for Bind/Connect syscalls.
func (a Address) Sockaddr() (unix.Sockaddr, error) {
	switch a.protocol {
	case IPv4:
		ip4 := a.ip.To4()
		if ip4 == nil {
			return nil, errors.New("netaddr: not a valid ipv4 address")
		}
		sa := &unix.SockaddrInet4{Port: int(a.port)}
		copy(sa.Addr[:], ip4)
		return sa, nil
	case IPv6:
		sa := &unix.SockaddrInet6{Port: int(a.port)}
		copy(sa.Addr[:], a.ip.To16())
		return sa, nil
	default:
		return nil, errors.New("netaddr: unknown protocol")
	}
}

// FromSockaddr converts a resolved unix.Sockaddr (as returned by Accept)
// back into an Address.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Address{protocol: IPv4, ip: net.IP(v.Addr[:]), port: uint16(v.Port)}, nil
	case *unix.SockaddrInet6:
		return Address{protocol: IPv6, ip: net.IP(v.Addr[:]), port: uint16(v.Port)}, nil
	default:
		return Address{}, errors.New("netaddr: unsupported sockaddr type")
	}
}
