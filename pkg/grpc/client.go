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

// Package grpc wraps client connection setup for the device control channels.
package grpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/carverauto/fabricwatch/pkg/logger"
)

const retryBackoff = 250 * time.Millisecond

// ClientConfig configures one outbound gRPC connection.
type ClientConfig struct {
	Address          string
	MaxRetries       int
	SecurityProvider SecurityProvider
	Logger           logger.Logger
}

// Client manages one gRPC client connection and its security provider.
type Client struct {
	conn      *grpc.ClientConn
	provider  SecurityProvider
	logger    logger.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a gRPC client for the given address. Dialing is lazy;
// the connection is established on first RPC.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Address == "" {
		return nil, errAddressRequired
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	provider := cfg.SecurityProvider
	if provider == nil {
		provider = &NoSecurityProvider{logger: log}
	}

	credOpt, err := provider.GetClientCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToGetCredentials, err)
	}

	opts := []grpc.DialOption{
		credOpt,
		grpc.WithUnaryInterceptor(retryInterceptor(cfg.MaxRetries, log)),
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", errFailedToConnect, cfg.Address, err)
	}

	return &Client{conn: conn, provider: provider, logger: log}, nil
}

// GetConnection returns the underlying connection for stub creation.
func (c *Client) GetConnection() *grpc.ClientConn {
	return c.conn
}

// Close tears down the connection and security provider. Safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil {
			c.closeErr = fmt.Errorf("error closing connection: %w", err)
		}

		if err := c.provider.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing security provider")
		}
	})

	return c.closeErr
}

// retryInterceptor retries unary RPCs that fail with Unavailable, which
// covers transient channel resets from restarting devices.
func retryInterceptor(maxRetries int, log logger.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{},
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		var err error

		for attempt := 0; ; attempt++ {
			err = invoker(ctx, method, req, reply, cc, opts...)
			if err == nil {
				return nil
			}

			if attempt >= maxRetries || status.Code(err) != codes.Unavailable {
				return err
			}

			log.Debug().
				Err(err).
				Str("method", method).
				Int("attempt", attempt+1).
				Msg("Retrying unary RPC")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
}
