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

// Package httpd demonstrates mounting a chi.Router on top of turtleserver.
// The framework itself does no request routing (that's explicitly out of
// scope for the reactor core) — this package parses one HTTP/1.1 request
// off the connection's read buffer at a time and drives an ordinary
// chi.Router against it, the same layering the original static file server
// used for its own hand-rolled request/response types.
package httpd

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/go-chi/chi"

	turtleserver "github.com/govoltron/turtleserver"
)

// Handler drives a chi.Router against requests parsed off each connection.
type Handler struct {
	Router chi.Router
}

// New creates a Handler around router.
func New(router chi.Router) *Handler {
	return &Handler{Router: router}
}

// OnHandle is the turtleserver callback: drain the socket, then parse and
// serve as many complete pipelined requests as are already buffered.
func (h *Handler) OnHandle(conn *turtleserver.Conn) {
	fd := conn.Fd()
	_, exit := conn.Recv()
	if exit {
		conn.Reactor().DeleteConnection(fd)
		return
	}

	for {
		req, consumed, err := parseRequest(conn.ReadBuffer().View())
		if err != nil {
			h.writeError(conn, http.StatusBadRequest)
			conn.Reactor().DeleteConnection(fd)
			return
		}
		if req == nil {
			return // incomplete request, wait for more bytes
		}
		conn.ReadBuffer().PopFront(consumed)

		w := newRecorder()
		h.Router.ServeHTTP(w, req)
		w.writeTo(conn)

		if req.Close {
			conn.Reactor().DeleteConnection(fd)
			return
		}
	}
}

func (h *Handler) writeError(conn *turtleserver.Conn, status int) {
	w := newRecorder()
	http.Error(w, http.StatusText(status), status)
	w.writeTo(conn)
}

// parseRequest reads one HTTP/1.1 request (request line, headers, and an
// optional Content-Length body) from buf. It returns (nil, 0, nil) when buf
// does not yet hold a complete request.
func parseRequest(buf []byte) (req *http.Request, consumed int, err error) {
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		return nil, 0, nil
	}
	head := buf[:headerEnd]
	reader := bufio.NewReader(bytes.NewReader(head))

	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, 0, fmt.Errorf("httpd: malformed request line: %w", err)
	}
	parts := strings.Fields(requestLine)
	if len(parts) != 3 {
		return nil, 0, fmt.Errorf("httpd: malformed request line %q", requestLine)
	}
	method, target, proto := parts[0], parts[1], parts[2]

	header, err := textproto.NewReader(reader).ReadMIMEHeader()
	if err != nil && header == nil {
		return nil, 0, fmt.Errorf("httpd: malformed headers: %w", err)
	}

	bodyStart := headerEnd + len("\r\n\r\n")
	contentLength := 0
	if cl := header.Get("Content-Length"); cl != "" {
		contentLength, err = strconv.Atoi(cl)
		if err != nil {
			return nil, 0, fmt.Errorf("httpd: bad Content-Length: %w", err)
		}
	}
	if len(buf) < bodyStart+contentLength {
		return nil, 0, nil // body not fully buffered yet
	}
	body := buf[bodyStart : bodyStart+contentLength]

	r, rerr := http.NewRequest(method, target, bytes.NewReader(body))
	if rerr != nil {
		return nil, 0, fmt.Errorf("httpd: %w", rerr)
	}
	r.Proto = proto
	r.Header = http.Header(header)
	r.Close = strings.EqualFold(header.Get("Connection"), "close")
	return r, bodyStart + contentLength, nil
}
