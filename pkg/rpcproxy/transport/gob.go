// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport is the one concrete rpcproxy.Transport the reference
// system ships with: encoding/gob records framed by gob's own streaming
// decoder, carried over a plain net.Conn. A production deployment would
// swap this package out for a generated protobuf/gRPC transport without
// touching pkg/rpcproxy itself.
package transport

import (
	"context"
	"encoding/gob"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bbqrtrm/rtrm/pkg/rpcproxy"
)

// GobTransport implements rpcproxy.Transport over a single net.Conn.
type GobTransport struct {
	conn net.Conn

	sendMu sync.Mutex
	enc    *gob.Encoder

	recvMu sync.Mutex
	dec    *gob.Decoder
}

// New wraps conn in a GobTransport. The caller owns conn's lifetime.
func New(conn net.Conn) *GobTransport {
	return &GobTransport{
		conn: conn,
		enc:  gob.NewEncoder(conn),
		dec:  gob.NewDecoder(conn),
	}
}

// Send gob-encodes msg directly onto the connection.
func (t *GobTransport) Send(msg rpcproxy.Message) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := t.enc.Encode(&msg); err != nil {
		return errors.Wrap(err, "transport: send")
	}
	return nil
}

// Recv decodes the next message, honoring ctx's deadline (if any) via the
// underlying connection's read deadline.
func (t *GobTransport) Recv(ctx context.Context) (rpcproxy.Message, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(deadline)
	} else {
		_ = t.conn.SetReadDeadline(time.Time{})
	}

	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	var msg rpcproxy.Message
	if err := t.dec.Decode(&msg); err != nil {
		return rpcproxy.Message{}, errors.Wrap(err, "transport: recv")
	}
	return msg, nil
}

// Close closes the underlying connection.
func (t *GobTransport) Close() error {
	return t.conn.Close()
}
