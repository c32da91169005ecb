// Copyright 2023 Kami
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

// Package echo is the smallest possible turtleserver handler: whatever a
// connection sends, it gets back verbatim.
package echo

import (
	turtleserver "github.com/govoltron/turtleserver"
)

// OnHandle drains a connection and echoes whatever it received straight
// back, closing the connection once the peer hangs up.
func OnHandle(conn *turtleserver.Conn) {
	fd := conn.Fd()
	n, exit := conn.Recv()
	if exit {
		conn.Reactor().DeleteConnection(fd)
		return
	}
	if n > 0 {
		conn.WriteBuffer().AppendTail(conn.ReadBuffer().View())
		conn.ReadBuffer().Clear()
		conn.Send()
	}
}
