/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package lifecycle runs a long-lived service with signal-driven shutdown.
package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/fabricwatch/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is a long-running component with explicit start and stop phases.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures a Run invocation.
type Options struct {
	ServiceName     string
	Service         Service
	Logger          logger.Logger
	ShutdownTimeout time.Duration
}

// Run starts the service and blocks until it exits on its own or a
// SIGINT/SIGTERM arrives. Stop always runs, on every exit path.
func Run(ctx context.Context, opts *Options) error {
	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- opts.Service.Start(ctx)
	}()

	var runErr error

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("service", opts.ServiceName).Msg("Service exited with error")

			runErr = err
		} else if err == nil {
			// Start returned with the service running in the background;
			// block until a shutdown signal.
			log.Info().Str("service", opts.ServiceName).Msg("Service started")
			<-ctx.Done()
		}
	case <-ctx.Done():
		log.Info().Str("service", opts.ServiceName).Msg("Shutdown signal received, stopping")

		// Let Start unwind before tearing down its resources.
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	timeout := opts.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := opts.Service.Stop(stopCtx); err != nil {
		log.Error().Err(err).Str("service", opts.ServiceName).Msg("Error during service shutdown")
	}

	log.Info().Str("service", opts.ServiceName).Msg("Shutdown complete")

	return runErr
}
