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

// Package netw wraps network connections so that the TLS layer can attach
// per-connection state during a handshake: the verification outcome, the
// presented client certificate, and whatever else the caller records. The
// handshake callbacks own the annotations exclusively; no state is shared
// across connections.
package netw

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pires/go-proxyproto"
	"golang.org/x/time/rate"
)

// Listen creates a listener whose connections carry annotations.
func Listen(network, laddr string) (net.Listener, error) {
	l, err := net.Listen(network, laddr)
	if err != nil {
		return nil, err
	}
	return listener{l}, nil
}

// ListenProxyProto is like Listen for connections arriving behind a load
// balancer that prepends the PROXY protocol header.
func ListenProxyProto(network, laddr string) (net.Listener, error) {
	l, err := net.Listen(network, laddr)
	if err != nil {
		return nil, err
	}
	return listener{&proxyproto.Listener{Listener: l}}, nil
}

type listener struct {
	net.Listener
}

func (l listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

// NewConn wraps c. If c is already wrapped, it is returned unchanged.
func NewConn(c net.Conn) *Conn {
	if cc, ok := c.(*Conn); ok {
		return cc
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		Conn:   c,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Conn is a net.Conn that carries annotations and per-connection byte
// counters.
type Conn struct {
	net.Conn

	ctx            context.Context
	cancel         func()
	ingressLimiter *rate.Limiter
	egressLimiter  *rate.Limiter
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64

	mu          sync.Mutex
	onClose     func()
	annotations map[string]any
}

// SetAnnotation sets an annotation. The value can be any go value.
func (c *Conn) SetAnnotation(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.annotations == nil {
		c.annotations = make(map[string]any)
	}
	c.annotations[key] = value
}

// SetAnnotation sets an annotation on a connection if it is annotated.
func SetAnnotation(conn net.Conn, key string, value any) {
	if c, ok := conn.(*Conn); ok {
		c.SetAnnotation(key, value)
	}
}

// Annotation retrieves an annotation that was previously set on the
// connection. The defaultValue is returned if the annotation was never set.
func (c *Conn) Annotation(key string, defaultValue any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.annotations[key]; ok {
		return v
	}
	return defaultValue
}

// SetLimiters sets the rate limiters for this connection. It must be called
// before the first Read() or Write().
func (c *Conn) SetLimiters(ingress, egress *rate.Limiter) {
	c.ingressLimiter = ingress
	c.egressLimiter = egress
}

// BytesSent returns the number of bytes sent on this connection so far.
func (c *Conn) BytesSent() int64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the number of bytes received on this connection so
// far.
func (c *Conn) BytesReceived() int64 {
	return c.bytesReceived.Load()
}

// OnClose sets a callback function that will be called when the connection
// is closed.
func (c *Conn) OnClose(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

func (c *Conn) Read(b []byte) (int, error) {
	if l := c.ingressLimiter; l != nil {
		if err := l.WaitN(c.ctx, len(b)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	c.bytesReceived.Add(int64(n))
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if l := c.egressLimiter; l != nil {
		if err := l.WaitN(c.ctx, len(b)); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.bytesSent.Add(int64(n))
	return n, err
}

func (c *Conn) Close() error {
	c.mu.Lock()
	f := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	c.cancel()
	if f != nil {
		f()
	}
	return c.Conn.Close()
}
