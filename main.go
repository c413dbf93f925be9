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

package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"hartirq/control"
	"hartirq/irq"
	"hartirq/utils"
)

// Machine description.
var board_file = flag.String("board", "", "board description (JSON)")
var harts = flag.Int("harts", 0, "override the number of harts")
var disk = flag.String("disk", "", "disk image for the default board")

// Our control server.
var control_path = flag.String("control", "", "control socket path")

// Fault handling.
var fault_policy = flag.String("fault", "halt", "on fault: halt, restart or continue")

// Debug parameters.
var log_level = flag.String("loglevel", "info", "log level")
var debug = flag.Bool("debug", false, "devices start debugging")

var logger *utils.Logger

func restart() error {

	// Get our binary.
	bin, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return err
	}
	_, err = os.Stat(bin)
	if err != nil {
		// If this is no longer the same binary, then the
		// kernel proc node will have "fixed" the symlink
		// to point to "/path (deleted)". This is mildly
		// annoying, as one would assume there would be a
		// better way of transmitting that information.
		if os.IsNotExist(err) && strings.HasSuffix(bin, " (deleted)") {
			bin = strings.TrimSuffix(bin, " (deleted)")
			_, err = os.Stat(bin)
		}
		if err != nil {
			return err
		}
	}

	// The new instance binds the socket again.
	if *control_path != "" {
		os.Remove(*control_path)
	}

	// Same arguments; it boots from scratch.
	return syscall.Exec(bin, os.Args, os.Environ())
}

func die(err error) {
	logger.Emerg().Err(err).Log("fatal")
	os.Exit(1)
}

func main() {
	// Parse all command line options.
	flag.Parse()

	level, err := utils.ParseLevel(*log_level)
	if err != nil {
		logger = utils.NewLogger(os.Stderr, utils.DefaultLevel)
		die(err)
	}
	logger = utils.NewLogger(os.Stderr, level)

	policy, err := irq.ParsePolicy(*fault_policy)
	if err != nil {
		die(err)
	}

	// Load our board.
	board := DefaultBoard(*disk)
	if *board_file != "" {
		board, err = LoadBoard(*board_file)
		if err != nil {
			die(err)
		}
	}
	if *harts > 0 {
		board.Harts = *harts
	}

	// Bring up the machine.
	system, err := NewSystem(board, policy, os.Stdin, os.Stdout, *debug, logger)
	if err != nil {
		die(err)
	}
	defer system.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	// Start all harts.
	group.Go(func() error {
		return system.Run(ctx)
	})

	// Create our RPC server.
	if *control_path != "" {
		os.Remove(*control_path)
		listener, err := net.Listen("unix", *control_path)
		if err != nil {
			die(err)
		}
		server, err := control.NewControl(
			listener,
			control.NewRpc(
				system.Model(),
				system.Plic(),
				system.Manager(),
				system.Scheduler()),
			logger)
		if err != nil {
			die(err)
		}
		group.Go(func() error {
			return server.Serve(ctx)
		})
	}

	// Start the workload.
	system.StartTasks()

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	// Wait until we get a TERM signal, or the harts stop.
	// If we receive a HUP signal, then we will re-exec.
	// This is essentially a live upgrade (i.e. the binary
	// has been replaced, we rerun).
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, utils.SigShutdown, utils.SigRestart, utils.SigDump)

	for {
		select {
		case err := <-done:
			if errors.Is(err, RestartRequested) {
				err = restart()
				die(err)
			}
			if err != nil {
				die(err)
			}
			die(HartsDied)

		case sig := <-signals:
			switch sig {
			case utils.SigShutdown:
				logger.Info().Log("shutdown")
				cancel()
				<-done
				system.Close()
				os.Exit(0)

			case utils.SigRestart:
				// This is a bit of a special case.
				// We don't log a fatal message here,
				// but rather keep going.
				err := restart()
				logger.Err().Err(err).Log("restart failed")

			case utils.SigDump:
				for _, stats := range system.Manager().Stats() {
					logger.Notice().
						Int("source", int(stats.Source)).
						Int("waiting", stats.Waiting).
						Uint64("dispatched", stats.Dispatched).
						Uint64("woken", stats.Woken).
						Uint64("unmatched", stats.Unmatched).
						Log("interrupt stats")
				}
				for _, info := range system.Scheduler().Tasks() {
					logger.Notice().
						Int("task", int(info.Id)).
						Str("name", info.Name).
						Str("status", info.Status).
						Str("owner", info.Owner).
						Log("task")
				}
			}
		}
	}
}
