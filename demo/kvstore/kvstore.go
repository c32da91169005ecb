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

// Package kvstore is a line-oriented "GET/SET/DEL key [value]" store
// handler, backed by the server's shared LRU cache rather than an
// unbounded map, so the store itself respects a byte budget.
package kvstore

import (
	"strings"

	turtleserver "github.com/govoltron/turtleserver"
	"github.com/govoltron/turtleserver/lrucache"
)

const (
	errMsg  = "Command Error: [GET,SET,DEL]\n"
	okMsg   = "OK.\n"
	nullMsg = "(nil)\n"
)

// Store wires GET/SET/DEL commands against a turtleserver.Server's shared
// cache.
type Store struct {
	cache *lrucache.Cache
}

// New binds a Store to the given server's shared cache.
func New(s *turtleserver.Server) *Store {
	return &Store{cache: s.Cache()}
}

// OnHandle is the turtleserver handler: drain the socket, pop complete
// newline-terminated commands, and reply to each in turn.
func (st *Store) OnHandle(conn *turtleserver.Conn) {
	fd := conn.Fd()
	n, exit := conn.Recv()
	if exit {
		conn.Reactor().DeleteConnection(fd)
		return
	}
	if n == 0 {
		return
	}
	for {
		line, ok := conn.ReadBuffer().FindAndPopUntil([]byte("\n"))
		if !ok {
			break
		}
		conn.WriteBuffer().AppendTailString(st.process(string(line)))
		conn.Send()
	}
}

// process evaluates one command line against the cache, mirroring the
// original dict server's GET/SET/DEL grammar.
func (st *Store) process(query string) string {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return errMsg
	}
	switch strings.ToUpper(tokens[0]) {
	case "GET":
		if len(tokens) != 2 {
			return "Argument Length Error: GET [key]\n"
		}
		val, ok := st.cache.TryLoad(tokens[1], nil)
		if !ok {
			return nullMsg
		}
		return string(val) + "\n"
	case "SET":
		if len(tokens) != 3 {
			return "Argument Length Error: SET [key] [val]\n"
		}
		st.cache.Delete(tokens[1])
		if !st.cache.TryInsert(tokens[1], []byte(tokens[2])) {
			return "Error: value too large\n"
		}
		return okMsg
	case "DEL":
		if len(tokens) != 2 {
			return "Argument Length Error: DEL [key]\n"
		}
		if !st.cache.Delete(tokens[1]) {
			return nullMsg
		}
		return okMsg
	default:
		return errMsg
	}
}
