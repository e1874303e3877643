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
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TrustStore selects the certificate authorities used as trust anchors for
// chain verification. The zero value, and a nil TrustStore, resolve to the
// system default trust bundle.
type TrustStore struct {
	// CAPath is a directory containing CA certificates in PEM format.
	CAPath string
	// CAFile is a single PEM file with concatenated CA certificates.
	CAFile string
	// Pool overrides both paths with an in-memory pool. Mostly useful in
	// tests and when the CA material comes from another component.
	Pool *x509.CertPool
}

// Resolve loads the trust anchors. Failures are reported as ErrTrustStore.
func (ts *TrustStore) Resolve() (*x509.CertPool, error) {
	if ts == nil || (ts.CAPath == "" && ts.CAFile == "" && ts.Pool == nil) {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: system trust bundle: %v", ErrTrustStore, err)
		}
		return pool, nil
	}
	if ts.Pool != nil {
		return ts.Pool, nil
	}
	pool := x509.NewCertPool()
	if ts.CAFile != "" {
		b, err := os.ReadFile(ts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w (%q, %q): %v", ErrTrustStore, ts.CAFile, ts.CAPath, err)
		}
		if !pool.AppendCertsFromPEM(b) {
			return nil, fmt.Errorf("%w (%q, %q): no certificates found", ErrTrustStore, ts.CAFile, ts.CAPath)
		}
	}
	if ts.CAPath != "" {
		if err := loadCertDir(pool, ts.CAPath); err != nil {
			return nil, fmt.Errorf("%w (%q, %q): %v", ErrTrustStore, ts.CAFile, ts.CAPath, err)
		}
	}
	return pool, nil
}

func loadCertDir(pool *x509.CertPool, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var n int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".pem", ".crt", ".cer", ".0":
		default:
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if !pool.AppendCertsFromPEM(b) {
			return fmt.Errorf("%s: no certificates found", name)
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("no CA certificates in %s", dir)
	}
	return nil
}
