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
	"errors"
	"fmt"
)

// Construction-time failures. All of them are reported synchronously by the
// factory functions; none of them are deferred to handshake time.
var (
	// ErrUnsupportedProtocol means the requested protocol method is not
	// implemented, or was disabled for security reasons, in the engine.
	ErrUnsupportedProtocol = errors.New("unsupported SSL method")
	// ErrTrustStore means the trusted CA material could not be loaded.
	ErrTrustStore = errors.New("cannot load trusted certificates")
	// ErrCipherSpec means the cipher list was rejected.
	ErrCipherSpec = errors.New("SSL cipher specification error")
	// ErrALPNConfig means the ALPN configuration is contradictory or
	// malformed.
	ErrALPNConfig = errors.New("ALPN error")
	// ErrClientCert means the client certificate or its key could not be
	// loaded.
	ErrClientCert = errors.New("SSL client certificate error")
	// ErrIdentity means the server certificate and private key could not
	// be installed.
	ErrIdentity = errors.New("SSL server identity error")
	// ErrConfig covers the remaining invalid-configuration cases.
	ErrConfig = errors.New("SSL configuration error")
)

// VerifyCode identifies a verification failure. The numeric values follow the
// OpenSSL X509_V_ERR_* assignments so that attached diagnostics read the same
// across tooling.
type VerifyCode int

const (
	CodeOK                           VerifyCode = 0
	CodeUnableToGetIssuerCert        VerifyCode = 2
	CodeCertNotYetValid              VerifyCode = 9
	CodeCertHasExpired               VerifyCode = 10
	CodeDepthZeroSelfSigned          VerifyCode = 18
	CodeSelfSignedInChain            VerifyCode = 19
	CodeUnableToGetIssuerCertLocally VerifyCode = 20
	CodeCertRejected                 VerifyCode = 28
	CodeHostnameMismatch             VerifyCode = 62
)

func (c VerifyCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeUnableToGetIssuerCert:
		return "unable to get issuer certificate"
	case CodeCertNotYetValid:
		return "certificate is not yet valid"
	case CodeCertHasExpired:
		return "certificate has expired"
	case CodeDepthZeroSelfSigned:
		return "self-signed certificate"
	case CodeSelfSignedInChain:
		return "self-signed certificate in certificate chain"
	case CodeUnableToGetIssuerCertLocally:
		return "unable to get local issuer certificate"
	case CodeCertRejected:
		return "certificate rejected"
	case CodeHostnameMismatch:
		return "hostname mismatch"
	default:
		return fmt.Sprintf("verification error %d", int(c))
	}
}

// VerificationError is attached to the connection when certificate chain or
// hostname verification fails during the handshake. Whether the handshake
// itself is aborted depends on the context's VerifyMode; the error remains
// retrievable either way with ConnVerificationError.
type VerificationError struct {
	// Host is the hostname being verified, or the peer address when no
	// hostname was configured.
	Host string
	// Code is the underlying verification error code.
	Code VerifyCode
	// Depth is the position in the chain where verification failed, with
	// 0 being the leaf certificate.
	Depth int
	// Msg is a human-readable description.
	Msg string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("certificate verification error for %s: %s (errno: %d, depth: %d)",
		e.Host, e.Msg, int(e.Code), e.Depth)
}
