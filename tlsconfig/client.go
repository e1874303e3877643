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
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/mitmtls/mitmtls/internal/netw"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// noHostname is matched against the certificate when verification runs
// without a configured server name. It never matches a real identity.
const noHostname = "no-hostname"

// ClientConfig describes the context for the proxy to origin-server leg.
type ClientConfig struct {
	Config

	// Cert is the path to a file containing both the client certificate
	// and its private key: either combined PEM or a PKCS#12 bundle.
	Cert string
	// CertPassword is the password of a PKCS#12 bundle.
	CertPassword string
	// ServerName is the Server Name Indication value. Required when
	// VerifyMode is VerifyPeer: hostname validation cannot run without a
	// name to check against.
	ServerName string
	// Address is the origin server address, used in error messages when
	// no server name is configured.
	Address string
}

// NewClientContext builds the context used when the proxy connects onward to
// the origin server. The installed verification callback checks the leaf
// certificate's identity against ServerName and attaches a
// VerificationError to the connection on failure.
func NewClientContext(cc ClientConfig) (*Context, error) {
	if cc.ServerName == "" && cc.Config.VerifyMode != VerifyNone {
		return nil, fmt.Errorf("%w: cannot validate certificate hostname without SNI", ErrConfig)
	}

	cfg := cc.Config
	cfg.role = roleClient
	cfg.serverName = cc.ServerName
	cfg.address = cc.Address
	if cfg.VerifyCallback == nil {
		cfg.VerifyCallback = clientVerifyCallback(cc.ServerName, cc.Address)
	}
	cx, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if cc.Cert != "" {
		cert, err := loadClientCertificate(cc.Cert, cc.CertPassword)
		if err != nil {
			return nil, err
		}
		cx.cfg.Certificates = []tls.Certificate{cert}
	}
	return cx, nil
}

// clientVerifyCallback returns the verification callback for a client
// context. Calls above depth 0 pass the preliminary result through. At the
// leaf, a positive preliminary result additionally requires the certificate
// identity to match the IDNA-encoded server name.
func clientVerifyCallback(sni, address string) VerifyCallback {
	peer := sni
	if peer == "" {
		peer = address
	}
	return func(conn *netw.Conn, cert *x509.Certificate, code VerifyCode, depth int, preverified bool) bool {
		if preverified && depth == 0 {
			hostname := noHostname
			if sni != "" {
				h, err := EncodeHostname(sni)
				if err != nil {
					attachVerificationError(conn, &VerificationError{
						Host:  peer,
						Code:  CodeHostnameMismatch,
						Depth: 0,
						Msg:   fmt.Sprintf("invalid hostname %q: %v", sni, err),
					})
					return false
				}
				hostname = h
			}
			if !MatchHostname(cert.DNSNames, cert.Subject.CommonName, hostname) {
				attachVerificationError(conn, &VerificationError{
					Host:  peer,
					Code:  CodeHostnameMismatch,
					Depth: 0,
					Msg:   fmt.Sprintf("certificate does not match hostname %q", hostname),
				})
				return false
			}
			return true
		}
		if preverified {
			return true
		}
		attachVerificationError(conn, &VerificationError{
			Host:  peer,
			Code:  code,
			Depth: depth,
			Msg:   code.String(),
		})
		return false
	}
}

// loadClientCertificate reads a certificate and its matching private key
// from a single file, combined PEM or PKCS#12.
func loadClientCertificate(path, password string) (tls.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", ErrClientCert, err)
	}
	if block, _ := pem.Decode(b); block == nil {
		// Not PEM; assume a PKCS#12 bundle.
		key, leaf, chain, err := pkcs12.DecodeChain(b, password)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: %v", ErrClientCert, err)
		}
		cert := tls.Certificate{
			Certificate: [][]byte{leaf.Raw},
			PrivateKey:  key,
			Leaf:        leaf,
		}
		for _, c := range chain {
			cert.Certificate = append(cert.Certificate, c.Raw)
		}
		return cert, nil
	}
	cert, err := tls.X509KeyPair(b, b)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", ErrClientCert, err)
	}
	return cert, nil
}
