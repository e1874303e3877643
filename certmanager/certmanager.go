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

// Package certmanager implements the certificate authority an intercepting
// proxy uses to impersonate origin servers. For every requested hostname it
// mints a leaf certificate signed by its own root, so that a single
// listening context can present a distinct identity per destination host.
// The root is not, and must not be, trusted for anything beyond the clients
// that opted into interception.
package certmanager

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/idna"

	"github.com/mitmtls/mitmtls/tlsconfig"
)

// An interception proxy sees an unbounded stream of distinct hostnames;
// minted identities are kept in a bounded cache instead of an ever-growing
// map.
const identityCacheSize = 1024

// CA is a certificate authority that mints per-hostname server identities.
type CA struct {
	name      string
	key       *ecdsa.PrivateKey
	caCert    *x509.Certificate
	caCertPEM []byte
	pool      *x509.CertPool
	logger    func(string, ...interface{})

	mu         sync.Mutex
	identities *lru.Cache[string, *tlsconfig.ServerIdentity]
}

// New returns a new certificate authority. If the MITMTLS_CA_STATE_FILE
// environment variable is set, the root key and certificate are read from,
// or persisted to, that file; otherwise the root is ephemeral.
func New(name string, logger func(string, ...interface{})) (*CA, error) {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}

	var key *ecdsa.PrivateKey
	var caCert *x509.Certificate
	var err error

	duration := 24 * time.Hour

	stateFile := os.Getenv("MITMTLS_CA_STATE_FILE")
	if stateFile != "" {
		if key, caCert, err = readRootKeyAndCert(stateFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger("%q: %v", stateFile, err)
		}
		duration = 10 * 365 * 24 * time.Hour
	}
	if key == nil {
		if key, caCert, err = createRootKeyAndCert(name, duration); err != nil {
			return nil, err
		}
		if stateFile != "" {
			if err := saveRootKeyAndCert(stateFile, key, caCert); err != nil {
				logger("%q: %v", stateFile, err)
			} else {
				logger("state saved in %q", stateFile)
			}
		}
	}
	caCertPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: caCert.Raw,
	})
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	identities, err := lru.New[string, *tlsconfig.ServerIdentity](identityCacheSize)
	if err != nil {
		return nil, err
	}
	return &CA{
		name:       name,
		key:        key,
		caCert:     caCert,
		caCertPEM:  caCertPEM,
		pool:       pool,
		logger:     logger,
		identities: identities,
	}, nil
}

func createRootKeyAndCert(name string, d time.Duration) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ecdsa.GenerateKey: %w", err)
	}
	sn, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	now := time.Now()
	templ := &x509.Certificate{
		SerialNumber:          sn,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(d),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	b, err := x509.CreateCertificate(rand.Reader, templ, templ, key.Public(), key)
	if err != nil {
		return nil, nil, fmt.Errorf("x509.CreateCertificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(b)
	if err != nil {
		return nil, nil, fmt.Errorf("x509.ParseCertificate: %w", err)
	}
	return key, caCert, nil
}

func readRootKeyAndCert(fileName string) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	b, err := os.ReadFile(fileName)
	if err != nil {
		return nil, nil, fmt.Errorf("os.ReadFile(%q) = %w", fileName, err)
	}
	var key *ecdsa.PrivateKey
	var caCert *x509.Certificate

	for {
		block, rest := pem.Decode(b)
		b = rest
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY":
			pk, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("x509.ParsePKCS8PrivateKey: %w", err)
			}
			var ok bool
			if key, ok = pk.(*ecdsa.PrivateKey); !ok {
				return nil, nil, errors.New("x509.ParsePKCS8PrivateKey: not an ECDSA key")
			}
		case "CERTIFICATE":
			if caCert, err = x509.ParseCertificate(block.Bytes); err != nil {
				return nil, nil, fmt.Errorf("x509.ParseCertificate: %w", err)
			}
		}
	}
	if key == nil {
		return nil, nil, errors.New("no private key")
	}
	if caCert == nil {
		return nil, nil, errors.New("no certificate")
	}
	return key, caCert, nil
}

func saveRootKeyAndCert(fileName string, key *ecdsa.PrivateKey, cert *x509.Certificate) error {
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("x509.MarshalPKCS8PrivateKey: %w", err)
	}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyBytes,
	}); err != nil {
		return fmt.Errorf("pem.Encode: %w", err)
	}
	if err := pem.Encode(&buf, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert.Raw,
	}); err != nil {
		return fmt.Errorf("pem.Encode: %w", err)
	}
	if err := os.WriteFile(fileName, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("os.WriteFile: %w", err)
	}
	return nil
}

// RootCAPEM returns the root certificate in PEM format.
func (ca *CA) RootCAPEM() string {
	return string(ca.caCertPEM)
}

// RootCACert returns the root certificate.
func (ca *CA) RootCACert() *x509.Certificate {
	return ca.caCert
}

// RootCACertPool returns a CertPool that contains the root certificate.
func (ca *CA) RootCACertPool() *x509.CertPool {
	return ca.pool
}

// IdentityFor returns the server identity to present for the given
// hostname, minting and caching it on first use. It implements
// tlsconfig.IdentitySelector.
func (ca *CA) IdentityFor(name string) (*tlsconfig.ServerIdentity, error) {
	if n, err := idna.Lookup.ToASCII(name); err == nil {
		name = n
	}
	ca.mu.Lock()
	defer ca.mu.Unlock()
	if id, ok := ca.identities.Get(name); ok {
		return id, nil
	}

	ca.logger("[%s] IdentityFor(%q)", ca.name, name)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ecdsa.GenerateKey: %w", err)
	}
	sn, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	now := time.Now()
	templ := &x509.Certificate{
		SerialNumber:          sn,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(48 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{name},
	}
	b, err := x509.CreateCertificate(rand.Reader, templ, ca.caCert, key.Public(), ca.key)
	if err != nil {
		return nil, fmt.Errorf("x509.CreateCertificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(b)
	if err != nil {
		return nil, fmt.Errorf("x509.ParseCertificate: %w", err)
	}
	id := &tlsconfig.ServerIdentity{
		Cert:       leaf,
		Key:        key,
		ExtraChain: []*x509.Certificate{ca.caCert},
	}
	ca.identities.Add(name, id)
	return id, nil
}

// GetCertificate can be used in a tls.Config.
func (ca *CA) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	id, err := ca.IdentityFor(hello.ServerName)
	if err != nil {
		return nil, err
	}
	return id.Certificate()
}

// TLSConfig returns a tls.Config that presents a minted identity for every
// requested hostname.
func (ca *CA) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: ca.GetCertificate,
	}
}
