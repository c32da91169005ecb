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

package httpd

import (
	"bytes"
	"fmt"
	"net/http"

	turtleserver "github.com/govoltron/turtleserver"
)

// recorder is the smallest http.ResponseWriter that can capture a
// chi.Router's output and serialize it back onto a turtleserver
// connection's write buffer — there is no live net.Conn for chi to write
// through directly, since the framework hands handlers a byte buffer, not
// a socket.
type recorder struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), statusCode: http.StatusOK}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *recorder) WriteHeader(statusCode int) { r.statusCode = statusCode }

// writeTo serializes the recorded response as HTTP/1.1 bytes onto conn's
// write buffer and sends it.
func (r *recorder) writeTo(conn *turtleserver.Conn) {
	if r.header.Get("Content-Length") == "" {
		r.header.Set("Content-Length", fmt.Sprintf("%d", r.body.Len()))
	}
	wb := conn.WriteBuffer()
	wb.AppendTailString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.statusCode, http.StatusText(r.statusCode)))
	for key, values := range r.header {
		for _, v := range values {
			wb.AppendTailString(fmt.Sprintf("%s: %s\r\n", key, v))
		}
	}
	wb.AppendTailString("\r\n")
	wb.AppendTail(r.body.Bytes())
	conn.Send()
}
