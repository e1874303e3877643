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

package tlsconfig

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"time"

	"github.com/mitmtls/mitmtls/internal/netw"
)

// VerifyCallback is invoked once per certificate during chain verification,
// from the trust anchor toward the leaf; the leaf (depth 0) call happens
// last. preverified carries the engine's preliminary result for that
// position, and code the corresponding error code. The returned boolean
// controls whether the transport-level handshake continues under VerifyPeer;
// richer diagnostics belong in a VerificationError attached to conn.
//
// Callbacks run synchronously on the goroutine driving the handshake and
// must not block.
type VerifyCallback func(conn *netw.Conn, cert *x509.Certificate, code VerifyCode, depth int, preverified bool) bool

func attachVerificationError(conn *netw.Conn, ve *VerificationError) {
	conn.SetAnnotation(verifyErrorKey, ve)
}

// verifyClientConn drives chain verification for the proxy to origin-server
// leg. It computes the preliminary result for every chain position, replays
// the chain through the verification callback in root-to-leaf order, and
// translates the outcome according to the verify mode.
func (cx *Context) verifyClientConn(nc *netw.Conn, cs tls.ConnectionState) error {
	peers := cs.PeerCertificates
	if len(peers) == 0 {
		return errors.New("no peer certificate")
	}
	chain := peers
	code, failDepth := CodeOK, -1
	opts := x509.VerifyOptions{
		Roots:         cx.rootCAs,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range peers[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if chains, err := peers[0].Verify(opts); err == nil {
		chain = chains[0]
	} else {
		code, failDepth = classifyVerifyError(err, peers)
	}

	cb := cx.verifyCallback
	if cb == nil {
		cb = func(_ *netw.Conn, _ *x509.Certificate, _ VerifyCode, _ int, preverified bool) bool {
			return preverified
		}
	}
	ok := true
	for depth := len(chain) - 1; depth >= 0; depth-- {
		pre := depth != failDepth
		certCode := CodeOK
		if depth == failDepth {
			certCode = code
		}
		if !cb(nc, chain[depth], certCode, depth, pre) {
			ok = false
		}
	}
	if ok || cx.verifyMode == VerifyNone {
		// Under VerifyNone the handshake continues regardless of the
		// verification result. The attached error remains retrievable.
		return nil
	}
	if ve := ConnVerificationError(nc); ve != nil {
		return ve
	}
	return &VerificationError{
		Host:  cx.peerName(),
		Code:  code,
		Depth: max(failDepth, 0),
		Msg:   code.String(),
	}
}

// verifyServerConn handles the client to proxy leg. Whatever certificate the
// client presents is reported to the callback and accepted; rejecting
// clients, if desired at all, is a policy decision made after the handshake.
func (cx *Context) verifyServerConn(nc *netw.Conn, cs tls.ConnectionState) error {
	peers := cs.PeerCertificates
	cb := cx.verifyCallback
	for depth := len(peers) - 1; depth >= 0; depth-- {
		if cb != nil {
			cb(nc, peers[depth], CodeOK, depth, true)
		}
	}
	if len(peers) > 0 {
		nc.SetAnnotation(clientCertKey, peers[0])
	}
	return nil
}

func (cx *Context) peerName() string {
	if cx.serverName != "" {
		return cx.serverName
	}
	return cx.address
}

// classifyVerifyError maps the engine's chain verification error to an
// error code and the chain depth it applies to. peers is in leaf-first
// order.
func classifyVerifyError(err error, peers []*x509.Certificate) (VerifyCode, int) {
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		top := len(peers) - 1
		if top == 0 && bytes.Equal(peers[0].RawIssuer, peers[0].RawSubject) {
			return CodeDepthZeroSelfSigned, 0
		}
		if bytes.Equal(peers[top].RawIssuer, peers[top].RawSubject) {
			return CodeSelfSignedInChain, top
		}
		return CodeUnableToGetIssuerCertLocally, top
	}
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) && invalid.Reason == x509.Expired {
		now := time.Now()
		for depth, cert := range peers {
			if now.After(cert.NotAfter) {
				return CodeCertHasExpired, depth
			}
			if now.Before(cert.NotBefore) {
				return CodeCertNotYetValid, depth
			}
		}
		return CodeCertHasExpired, 0
	}
	return CodeCertRejected, 0
}
