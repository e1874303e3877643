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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildDefaults(t *testing.T) {
	cx, err := Config{}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got, want := cx.Version(), VersionSecure; got != want {
		t.Errorf("Version() = %s, want %s", got, want)
	}
	if got, want := cx.Options(), DefaultOptions; got != want {
		t.Errorf("Options() = %#x, want %#x", uint32(got), uint32(want))
	}
	tc := cx.TLSConfig()
	if got, want := tc.MinVersion, uint16(tls.VersionTLS10); got != want {
		t.Errorf("MinVersion = %#x, want %#x", got, want)
	}
	if got, want := tc.MaxVersion, uint16(tls.VersionTLS13); got != want {
		t.Errorf("MaxVersion = %#x, want %#x", got, want)
	}
}

func TestBuildPinnedVersion(t *testing.T) {
	cx, err := Config{Version: VersionTLS12}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tc := cx.TLSConfig()
	if tc.MinVersion != tls.VersionTLS12 || tc.MaxVersion != tls.VersionTLS12 {
		t.Errorf("version range = [%#x, %#x], want pinned to TLS 1.2", tc.MinVersion, tc.MaxVersion)
	}
}

func TestBuildRejectsLegacyMethods(t *testing.T) {
	for _, tc := range []struct {
		version Version
		method  string
	}{
		{VersionSSLv2, "SSLv2"},
		{VersionSSLv3, "SSLv3"},
	} {
		_, err := Config{Version: tc.version}.Build()
		if !errors.Is(err, ErrUnsupportedProtocol) {
			t.Errorf("Build(%s) = %v, want ErrUnsupportedProtocol", tc.version, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.method) {
			t.Errorf("Build(%s) error %q does not name %s", tc.version, err, tc.method)
		}
	}
}

func TestBuildRejectsUnknownCipher(t *testing.T) {
	_, err := Config{CipherSuites: []string{"TLS_BOGUS_WITH_NOTHING"}}.Build()
	if !errors.Is(err, ErrCipherSpec) {
		t.Errorf("Build = %v, want ErrCipherSpec", err)
	}
	cx, err := Config{CipherSuites: []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"}}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := cx.TLSConfig().CipherSuites; len(got) != 1 || got[0] != tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256 {
		t.Errorf("CipherSuites = %v, want [TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256]", got)
	}
}

func TestBuildRejectsConflictingALPN(t *testing.T) {
	_, err := Config{ALPN: ALPNConfig{
		Select:         "h2",
		SelectCallback: func([]string) string { return "h2" },
	}}.Build()
	if !errors.Is(err, ErrALPNConfig) {
		t.Errorf("Build = %v, want ErrALPNConfig", err)
	}
}

func TestBuildTrustStoreErrors(t *testing.T) {
	_, err := Config{TrustStore: &TrustStore{CAFile: "/does/not/exist.pem"}}.Build()
	if !errors.Is(err, ErrTrustStore) {
		t.Errorf("Build(missing file) = %v, want ErrTrustStore", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(empty, []byte("not a certificate\n"), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	_, err = Config{TrustStore: &TrustStore{CAFile: empty}}.Build()
	if !errors.Is(err, ErrTrustStore) {
		t.Errorf("Build(no certs) = %v, want ErrTrustStore", err)
	}

	_, err = Config{TrustStore: &TrustStore{CAPath: t.TempDir()}}.Build()
	if !errors.Is(err, ErrTrustStore) {
		t.Errorf("Build(empty dir) = %v, want ErrTrustStore", err)
	}
}

func TestBuildOptionsOverride(t *testing.T) {
	opts := BasicOptions
	cx, err := Config{Options: &opts}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := cx.Options(); got != BasicOptions {
		t.Errorf("Options() = %#x, want %#x", uint32(got), uint32(BasicOptions))
	}
}

func TestOptionsAreImmaterialToFailure(t *testing.T) {
	// A conflicting ALPN configuration fails no matter what else is set.
	opts := DefaultOptions
	_, err := Config{
		Version:      VersionTLS13,
		Options:      &opts,
		CipherSuites: []string{"TLS_AES_128_GCM_SHA256"},
		ALPN: ALPNConfig{
			Select:         "http/1.1",
			SelectCallback: func([]string) string { return "" },
		},
	}.Build()
	if !errors.Is(err, ErrALPNConfig) {
		t.Errorf("Build = %v, want ErrALPNConfig", err)
	}
}
