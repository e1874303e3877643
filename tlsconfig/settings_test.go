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
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "tls.yaml")
	if err := os.WriteFile(name, []byte(content), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return name
}

func TestReadSettings(t *testing.T) {
	name := writeSettings(t, `
version: TLSv1_2
cipherSuites:
  - TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256
alpnProtos:
  - h2
  - http/1.1
alpnSelect: h2
serverName: www.example.com
verifyUpstream: true
keyLogFile: /tmp/keylog
`)
	s, err := ReadSettings(name)
	if err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}
	want := &Settings{
		Version:        "TLSv1_2",
		CipherSuites:   []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"},
		ALPNProtos:     []string{"h2", "http/1.1"},
		ALPNSelect:     "h2",
		ServerName:     "www.example.com",
		VerifyUpstream: true,
		KeyLogFile:     "/tmp/keylog",
	}
	if diff := deep.Equal(s, want); diff != nil {
		t.Errorf("ReadSettings: %v", diff)
	}
}

func TestReadSettingsRejectsUnknownFields(t *testing.T) {
	name := writeSettings(t, "version: secure\nbogusKnob: true\n")
	if _, err := ReadSettings(name); err == nil {
		t.Error("ReadSettings accepted an unknown field")
	}
}

func TestSettingsCheck(t *testing.T) {
	for _, tc := range []struct {
		desc string
		s    Settings
		want error
	}{
		{"empty", Settings{}, nil},
		{"bad version", Settings{Version: "TLSv9"}, ErrConfig},
		{"bad cipher", Settings{CipherSuites: []string{"nope"}}, ErrCipherSpec},
		{"bad proto", Settings{ALPNProtos: []string{""}}, ErrALPNConfig},
		{"verify without sni", Settings{VerifyUpstream: true}, ErrConfig},
		{"verify with sni", Settings{VerifyUpstream: true, ServerName: "x.example.com"}, nil},
	} {
		err := tc.s.Check()
		if tc.want == nil {
			if err != nil {
				t.Errorf("%s: Check: %v", tc.desc, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: Check = %v, want %v", tc.desc, err, tc.want)
		}
	}
}

func TestSettingsClientConfig(t *testing.T) {
	s := Settings{
		Version:        "TLSv1_3",
		ALPNProtos:     []string{"h2"},
		ServerName:     "www.example.com",
		VerifyUpstream: true,
		ClientCert:     "/path/to/cert.pem",
	}
	cc, err := s.ClientConfig()
	if err != nil {
		t.Fatalf("ClientConfig: %v", err)
	}
	if got, want := cc.Config.Version, VersionTLS13; got != want {
		t.Errorf("Version = %s, want %s", got, want)
	}
	if got, want := cc.Config.VerifyMode, VerifyPeer; got != want {
		t.Errorf("VerifyMode = %d, want %d", got, want)
	}
	if diff := deep.Equal(cc.Config.ALPN.Protos, []string{"h2"}); diff != nil {
		t.Errorf("ALPN.Protos: %v", diff)
	}
	if got, want := cc.ServerName, "www.example.com"; got != want {
		t.Errorf("ServerName = %q, want %q", got, want)
	}
	if got, want := cc.Cert, "/path/to/cert.pem"; got != want {
		t.Errorf("Cert = %q, want %q", got, want)
	}
}

func TestSettingsServerConfig(t *testing.T) {
	s := Settings{ALPNSelect: "h2"}
	sc, err := s.ServerConfig(ServerIdentity{}, nil)
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if got, want := sc.Config.ALPN.Select, "h2"; got != want {
		t.Errorf("ALPN.Select = %q, want %q", got, want)
	}
}

func TestSettingsKeyLogEnvPrecedence(t *testing.T) {
	t.Setenv(keyLogEnv, filepath.Join(t.TempDir(), "env-keylog"))
	s := Settings{KeyLogFile: "/should/not/be/used"}
	cfg, err := s.contextConfig()
	if err != nil {
		t.Fatalf("contextConfig: %v", err)
	}
	if cfg.Recorder == nil || cfg.Recorder.filename == s.KeyLogFile {
		t.Errorf("Recorder = %+v, want environment file", cfg.Recorder)
	}
}
