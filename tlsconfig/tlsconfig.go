// MIT License
//
// Copyright (c) 2023 TTBT Enterprises LLC
// Copyright (c) 2023 Robin Thellend <rthellend@rthellend.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package tlsconfig builds the TLS contexts an intercepting proxy uses on
// both sides of a connection: the context presented to the connecting client
// while the proxy impersonates the origin server, and the context used when
// the proxy connects onward to the real origin server.
//
// The package configures policy only. The handshake itself is driven by
// crypto/tls, which invokes the verification, SNI, and ALPN hooks installed
// here synchronously on the connection's goroutine.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/mitmtls/mitmtls/internal/netw"
)

// VerifyMode controls whether the outcome of certificate verification can
// abort the handshake.
type VerifyMode int

const (
	// VerifyNone runs the verification callback but never aborts the
	// handshake on a negative outcome. Any VerificationError is still
	// attached to the connection.
	VerifyNone VerifyMode = iota
	// VerifyPeer aborts the handshake when the verification callback
	// returns a negative outcome.
	VerifyPeer
)

type role int

const (
	roleClient role = iota
	roleServer
)

// Context is a ready-to-use TLS context. It is safe to share between
// connections. Use Client or Server to begin a handshake on a connection.
type Context struct {
	cfg            *tls.Config
	role           role
	version        Version
	options        Options
	verifyMode     VerifyMode
	verifyCallback VerifyCallback
	rootCAs        *x509.CertPool
	alpn           ALPNConfig
	serverName     string
	address        string
}

// Version returns the protocol version selector the context was built with.
func (cx *Context) Version() Version {
	return cx.version
}

// Options returns the option bitmask the context was built with.
func (cx *Context) Options() Options {
	return cx.options
}

// VerifyMode returns the context's verification mode.
func (cx *Context) VerifyMode() VerifyMode {
	return cx.verifyMode
}

// TLSConfig returns a copy of the underlying engine configuration. The copy
// does not have the per-connection verification hook installed; use Client or
// Server for that.
func (cx *Context) TLSConfig() *tls.Config {
	return cx.cfg.Clone()
}

// Conn is a TLS connection with the context's per-connection state attached.
type Conn struct {
	*tls.Conn
	nw *netw.Conn
}

// NetwConn returns the annotated connection underneath the TLS layer.
func (c *Conn) NetwConn() *netw.Conn {
	return c.nw
}

// VerificationError returns the error attached during certificate
// verification, or nil. It is only meaningful after the handshake.
func (c *Conn) VerificationError() *VerificationError {
	return ConnVerificationError(c.nw)
}

// ClientCert returns the certificate the peer presented during the handshake,
// or nil. It is only meaningful after the handshake on server connections.
func (c *Conn) ClientCert() *x509.Certificate {
	return ConnClientCert(c.nw)
}

// Client begins a client-side TLS handshake context on conn. The returned
// connection carries the verification state for this handshake.
func (cx *Context) Client(conn net.Conn) *Conn {
	nc := netwConn(conn)
	cfg := cx.cfg.Clone()
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return cx.verifyClientConn(nc, cs)
	}
	return &Conn{Conn: tls.Client(nc, cfg), nw: nc}
}

// Server begins a server-side TLS handshake context on conn.
func (cx *Context) Server(conn net.Conn) *Conn {
	nc := netwConn(conn)
	cfg := cx.cfg.Clone()
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return cx.verifyServerConn(nc, cs)
	}
	cx.installALPNSelect(cfg)
	return &Conn{Conn: tls.Server(nc, cfg), nw: nc}
}

// installALPNSelect wires the server-side protocol selection hook. The engine
// negotiates from its own protocol list, so the selection runs against the
// client's offer and the per-handshake config is narrowed to the result.
func (cx *Context) installALPNSelect(cfg *tls.Config) {
	if len(cx.alpn.Protos) > 0 || (cx.alpn.Select == "" && cx.alpn.SelectCallback == nil) {
		return
	}
	alpn := cx.alpn
	cfg.GetConfigForClient = func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		c := cfg.Clone()
		c.GetConfigForClient = nil
		if proto := alpn.selectProto(hello.SupportedProtos); proto != "" {
			c.NextProtos = []string{proto}
		} else {
			c.NextProtos = nil
		}
		return c, nil
	}
}

const (
	verifyErrorKey = "ve"
	clientCertKey  = "cc"
)

func netwConn(c net.Conn) *netw.Conn {
	switch c := c.(type) {
	case *Conn:
		return c.nw
	case *tls.Conn:
		return netwConn(c.NetConn())
	case *netw.Conn:
		return c
	default:
		return netw.NewConn(c)
	}
}

// ConnVerificationError returns the VerificationError attached to conn during
// the handshake, or nil.
func ConnVerificationError(c net.Conn) *VerificationError {
	ve, _ := netwConn(c).Annotation(verifyErrorKey, (*VerificationError)(nil)).(*VerificationError)
	return ve
}

// ConnClientCert returns the client certificate presented on conn, or nil.
func ConnClientCert(c net.Conn) *x509.Certificate {
	cert, _ := netwConn(c).Annotation(clientCertKey, (*x509.Certificate)(nil)).(*x509.Certificate)
	return cert
}
