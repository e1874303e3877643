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
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/mitmtls/mitmtls/internal/netw"
)

// ServerIdentity is the identity a server context presents to connecting
// clients: a leaf certificate (as an object or as the first certificate of a
// chain file), its private key, and any extra certificates appended to the
// chain sent to the peer. It is supplied per connection by the identity
// selection collaborator; this package does not mint certificates.
type ServerIdentity struct {
	// Cert is the leaf certificate.
	Cert *x509.Certificate
	// CertFile is the path to a PEM chain file, leaf first. Exactly one
	// of Cert and CertFile must be set.
	CertFile string
	// Key is the private key matching the leaf certificate.
	Key crypto.PrivateKey
	// ExtraChain certificates are appended to the chain sent to the
	// peer.
	ExtraChain []*x509.Certificate
	// CurvePreferences optionally restricts the key exchange groups the
	// handshake may use.
	CurvePreferences []tls.CurveID
}

// Certificate assembles the engine certificate for this identity. It fails
// with ErrIdentity when the key and certificate cannot be paired.
func (id *ServerIdentity) Certificate() (*tls.Certificate, error) {
	if id == nil || (id.Cert == nil && id.CertFile == "") {
		return nil, fmt.Errorf("%w: no certificate", ErrIdentity)
	}
	if id.Key == nil {
		return nil, fmt.Errorf("%w: no private key", ErrIdentity)
	}
	cert := tls.Certificate{PrivateKey: id.Key}
	switch {
	case id.Cert != nil:
		cert.Leaf = id.Cert
		cert.Certificate = [][]byte{id.Cert.Raw}
	default:
		b, err := os.ReadFile(id.CertFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIdentity, err)
		}
		for {
			var block *pem.Block
			if block, b = pem.Decode(b); block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert.Certificate = append(cert.Certificate, block.Bytes)
		}
		if len(cert.Certificate) == 0 {
			return nil, fmt.Errorf("%w: no certificates in %q", ErrIdentity, id.CertFile)
		}
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIdentity, err)
		}
		cert.Leaf = leaf
	}
	if err := matchKey(cert.Leaf, id.Key); err != nil {
		return nil, err
	}
	for _, c := range id.ExtraChain {
		cert.Certificate = append(cert.Certificate, c.Raw)
	}
	return &cert, nil
}

func matchKey(leaf *x509.Certificate, key crypto.PrivateKey) error {
	signer, ok := key.(crypto.Signer)
	if !ok {
		return fmt.Errorf("%w: unsupported private key type %T", ErrIdentity, key)
	}
	pub, ok := leaf.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(signer.Public()) {
		return fmt.Errorf("%w: private key does not match certificate", ErrIdentity)
	}
	return nil
}

// IdentitySelector picks the identity to present for a requested hostname.
// It is invoked by the engine during the handshake, before the identity is
// finalized, and must be non-blocking and free of shared mutable state.
type IdentitySelector func(serverName string) (*ServerIdentity, error)

// ServerConfig describes the context for the client to proxy leg.
type ServerConfig struct {
	Config

	// Identity is the default identity presented to clients.
	Identity ServerIdentity
	// SelectIdentity, if set, picks a different identity based on the
	// hostname the client requested in SNI. Returning nil, nil falls
	// back to the default identity.
	SelectIdentity IdentitySelector
	// RequestClientCert asks the client for a certificate. The presented
	// certificate is accepted regardless of its chain; verification, if
	// any, is a policy decision made after the handshake. Some clients,
	// notably older Android, abort the handshake when asked for a
	// certificate they do not have, which is why requesting is optional
	// and absence is never penalized.
	RequestClientCert bool
	// ChainFile is a PEM file of CA certificates used as the trust
	// anchors offered for client certificates.
	ChainFile string
}

// NewServerContext builds the context used when the proxy impersonates the
// origin server toward the connecting client.
func NewServerContext(sc ServerConfig) (*Context, error) {
	cfg := sc.Config
	cfg.role = roleServer
	if sc.RequestClientCert {
		cfg.VerifyMode = VerifyPeer
		cfg.clientAuth = tls.RequestClientCert
	} else {
		cfg.VerifyMode = VerifyNone
		cfg.clientAuth = tls.NoClientCert
	}
	if cfg.VerifyCallback == nil {
		cfg.VerifyCallback = acceptAllCallback
	}
	if sc.ChainFile != "" && cfg.TrustStore == nil {
		cfg.TrustStore = &TrustStore{CAFile: sc.ChainFile}
	}
	cx, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	cert, err := sc.Identity.Certificate()
	if err != nil {
		return nil, err
	}
	cx.cfg.Certificates = []tls.Certificate{*cert}
	if len(sc.Identity.CurvePreferences) > 0 && len(cx.cfg.CurvePreferences) == 0 {
		cx.cfg.CurvePreferences = sc.Identity.CurvePreferences
	}

	if sc.SelectIdentity != nil {
		selectIdentity := sc.SelectIdentity
		cx.cfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			id, err := selectIdentity(hello.ServerName)
			if err != nil {
				return nil, err
			}
			if id == nil {
				return cert, nil
			}
			return id.Certificate()
		}
	}
	return cx, nil
}

// acceptAllCallback reports success for every certificate a client
// presents.
func acceptAllCallback(_ *netw.Conn, _ *x509.Certificate, _ VerifyCode, _ int, _ bool) bool {
	return true
}
