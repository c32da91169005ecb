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

// Command turtleserverd runs the echo demo handler standalone, for manual
// exercise of the reactor server (§6, §7 exit codes).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	turtleserver "github.com/govoltron/turtleserver"
	"github.com/govoltron/turtleserver/demo/echo"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	bind := flag.String("bind", "0.0.0.0:20080", "address to listen on")
	workers := flag.Int("workers", 0, "worker reactor count (0 = number of CPUs minus one, at least 2)")
	idle := flag.Duration("idle-timeout", 0, "evict connections idle longer than this (0 disables eviction)")
	flag.Parse()

	opts := []turtleserver.ServerOption{}
	if *workers > 0 {
		opts = append(opts, turtleserver.WithWorkerCount(*workers))
	}
	if *idle > 0 {
		opts = append(opts, turtleserver.WithInactivityTimeout(*idle))
	}

	s, err := turtleserver.New(*bind, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "turtleserverd: %v\n", err)
		return exitConfigError
	}
	s.OnHandle(echo.OnHandle)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Begin() }()

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "turtleserverd: %v\n", err)
			return exitRuntimeError
		}
		return exitOK
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "turtleserverd: shutdown: %v\n", err)
			return exitRuntimeError
		}
		return exitOK
	}
}
