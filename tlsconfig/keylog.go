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
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	keyLogEnv    = "MITMTLS_SSLKEYLOGFILE"
	keyLogEnvAlt = "SSLKEYLOGFILE"
)

// NewRecorderFromEnv returns a Recorder writing to the file named by
// MITMTLS_SSLKEYLOGFILE, or SSLKEYLOGFILE as a fallback. It returns nil when
// neither is set; a nil Recorder is a safe no-op.
func NewRecorderFromEnv() *Recorder {
	if name := os.Getenv(keyLogEnv); name != "" {
		return NewRecorder(name)
	}
	if name := os.Getenv(keyLogEnvAlt); name != "" {
		return NewRecorder(name)
	}
	return nil
}

// NewRecorder returns a Recorder that appends TLS session key material to
// filename, one record per completed handshake, in the NSS key log format
// that decryption tools understand. The file is opened lazily on the first
// record.
func NewRecorder(filename string) *Recorder {
	return &Recorder{filename: filename}
}

// Recorder appends TLS session key material to a log file. It is shared by
// all connections in the process and safe for concurrent use; records are
// never interleaved.
type Recorder struct {
	filename string

	mu sync.Mutex
	f  *os.File
}

// Record writes one CLIENT_RANDOM record for a completed handshake.
func (r *Recorder) Record(clientRandom, masterSecret []byte) error {
	if r == nil {
		return nil
	}
	return r.writeLocked([]byte(fmt.Sprintf("CLIENT_RANDOM %x %x\r\n", clientRandom, masterSecret)))
}

// Write implements io.Writer so the Recorder can be installed as the
// engine's key log sink. The engine delivers one complete record per call.
func (r *Recorder) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	line := bytes.TrimRight(p, "\r\n")
	if err := r.writeLocked(append(line, '\r', '\n')); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *Recorder) writeLocked(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		if dir := filepath.Dir(r.filename); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := os.OpenFile(r.filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return err
		}
		r.f = f
		if _, err := r.f.Write([]byte("\r\n")); err != nil {
			return err
		}
	}
	_, err := r.f.Write(line)
	return err
}

// Close closes the log file. It is idempotent and safe to call even if the
// file was never opened.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
