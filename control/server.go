// Copyright 2014 Google Inc. All rights reserved.
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

package control

import (
	"context"
	"errors"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"hartirq/utils"
)

// The only header we speak.
const RpcHeader = "HIRQ RPC\n"

type Control struct {

	// The bound control socket.
	listener net.Listener

	// Our rpc server.
	rpc *Rpc

	logger *utils.Logger

	// Open client connections, closed on shutdown.
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	done  bool
}

// track records conn, or reports false once shut down.
func (control *Control) track(conn net.Conn) bool {
	control.mu.Lock()
	defer control.mu.Unlock()
	if control.done {
		return false
	}
	control.conns[conn] = struct{}{}
	return true
}

func (control *Control) untrack(conn net.Conn) {
	control.mu.Lock()
	delete(control.conns, conn)
	control.mu.Unlock()
}

// shutdown stops accepting and hangs up on every client.
func (control *Control) shutdown() {
	control.mu.Lock()
	control.done = true
	for conn := range control.conns {
		conn.Close()
	}
	control.mu.Unlock()

	control.listener.Close()
}

func (control *Control) handle(
	conn net.Conn,
	server *rpc.Server) {

	defer conn.Close()

	// Read single header.
	// Our header is exactly 9 characters, and we
	// expect the last character to be a newline.
	// This is a simple plaintext protocol.
	header_buf := make([]byte, len(RpcHeader))
	_, err := io.ReadFull(conn, header_buf)
	if err != nil {
		conn.Write([]byte(err.Error()))
		return
	}
	if string(header_buf) != RpcHeader {
		conn.Write([]byte(InvalidHeader.Error()))
		return
	}

	// Run as JSON RPC connection.
	codec := jsonrpc.NewServerCodec(conn)
	server.ServeCodec(codec)
}

// Serve accepts clients until ctx is done.
func (control *Control) Serve(ctx context.Context) error {

	// Bind our rpc server.
	server := rpc.NewServer()
	if err := server.Register(control.rpc); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, control.shutdown)
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	// However we stop, no client outlives us.
	defer control.shutdown()

	for {
		// Accept clients.
		conn, err := control.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		control.logger.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Log("control client")

		if !control.track(conn) {
			conn.Close()
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer control.untrack(conn)
			control.handle(conn, server)
		}()
	}
}

func NewControl(
	listener net.Listener,
	rpc *Rpc,
	logger *utils.Logger) (*Control, error) {

	// Is it invalid, for sure?
	if listener == nil || rpc == nil {
		return nil, InvalidControlSocket
	}

	// Create our control object.
	return &Control{
		listener: listener,
		rpc:      rpc,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}
