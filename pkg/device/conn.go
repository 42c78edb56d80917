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

// Package device manages the P4Runtime control channel to a single switch:
// connection, mastership arbitration, pipeline push, table writes and the
// packet-in event stream.
package device

import (
	"context"
	"fmt"
	"sync"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"

	grpcpkg "github.com/carverauto/fabricwatch/pkg/grpc"
	"github.com/carverauto/fabricwatch/pkg/logger"
	"github.com/carverauto/fabricwatch/pkg/models"
)

const defaultEventBuffer = 64

// State tracks where a device connection is in its bring-up sequence.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateMaster
	StatePipelineLoaded
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateMaster:
		return "master"
	case StatePipelineLoaded:
		return "pipeline_loaded"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ElectionID is the 128-bit mastership election id sent during arbitration.
type ElectionID struct {
	High uint64 `json:"high"`
	Low  uint64 `json:"low"`
}

func (e ElectionID) proto() *p4v1.Uint128 {
	return &p4v1.Uint128{High: e.High, Low: e.Low}
}

// Config describes one switch control channel.
type Config struct {
	Device      models.Device
	ElectionID  ElectionID
	Security    *models.SecurityConfig
	MaxRetries  int
	EventBuffer int
	Logger      logger.Logger
}

// Conn is the control channel to one switch. Methods are safe for use from
// multiple goroutines; bring-up calls are expected in order Connect,
// ClaimMastership, PushPipeline, MarkReady.
type Conn struct {
	cfg    Config
	log    logger.Logger
	client p4v1.P4RuntimeClient

	grpcClient *grpcpkg.Client

	mu     sync.Mutex
	state  State
	stream p4v1.P4Runtime_StreamChannelClient
	cancel context.CancelFunc

	events chan []byte
	arbCh  chan *p4v1.MasterArbitrationUpdate

	errMu     sync.Mutex
	streamErr error

	closeOnce sync.Once
	closeErr  error
}

// New creates a connection for the given switch. Nothing is dialed until
// Connect.
func New(cfg Config) *Conn {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewTestLogger()
	}

	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	return &Conn{
		cfg:   cfg,
		log:   cfg.Logger,
		state: StateDisconnected,
	}
}

// newWithClient wires a pre-built protocol client, bypassing the dial. Used
// by tests.
func newWithClient(cfg Config, client p4v1.P4RuntimeClient) *Conn {
	c := New(cfg)
	c.client = client

	return c
}

// Name returns the configured switch name.
func (c *Conn) Name() string {
	return c.cfg.Device.Name
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect dials the switch and opens the bidirectional stream channel. The
// stream outlives ctx; it is torn down by Close.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", errAlreadyConnected, c.cfg.Device.Name, c.state)
	}
	c.mu.Unlock()

	if c.client == nil {
		provider, err := grpcpkg.NewSecurityProvider(ctx, c.cfg.Security, c.log)
		if err != nil {
			c.setState(StateFailed)
			return fmt.Errorf("security provider for %s: %w", c.cfg.Device.Name, err)
		}

		gc, err := grpcpkg.NewClient(ctx, grpcpkg.ClientConfig{
			Address:          c.cfg.Device.Address,
			MaxRetries:       c.cfg.MaxRetries,
			SecurityProvider: provider,
			Logger:           c.log,
		})
		if err != nil {
			c.setState(StateFailed)
			return fmt.Errorf("dial %s: %w", c.cfg.Device.Name, err)
		}

		c.grpcClient = gc
		c.client = p4v1.NewP4RuntimeClient(gc.GetConnection())
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	stream, err := c.client.StreamChannel(streamCtx)
	if err != nil {
		cancel()
		c.setState(StateFailed)

		return fmt.Errorf("open stream channel to %s: %w", c.cfg.Device.Name, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.events = make(chan []byte, c.cfg.EventBuffer)
	c.arbCh = make(chan *p4v1.MasterArbitrationUpdate, 1)
	c.state = StateConnected
	c.mu.Unlock()

	go c.receiveLoop(stream, c.arbCh)

	c.log.Debug().
		Str("device", c.cfg.Device.Name).
		Str("address", c.cfg.Device.Address).
		Msg("Stream channel open")

	return nil
}

// receiveLoop routes stream messages until the stream ends: arbitration
// updates to the waiting claimer, packet-ins to the events channel. Anything
// else is ignored. On stream error both channels are closed so a pending
// claim and the event consumer unblock promptly.
func (c *Conn) receiveLoop(stream p4v1.P4Runtime_StreamChannelClient, arbCh chan *p4v1.MasterArbitrationUpdate) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			c.errMu.Lock()
			c.streamErr = err
			c.errMu.Unlock()

			c.mu.Lock()
			if c.state != StateDisconnected {
				c.state = StateFailed
			}
			events := c.events
			c.events = nil
			c.mu.Unlock()

			if events != nil {
				close(events)
			}

			close(arbCh)

			return
		}

		switch m := msg.Update.(type) {
		case *p4v1.StreamMessageResponse_Arbitration:
			select {
			case arbCh <- m.Arbitration:
			default:
			}
		case *p4v1.StreamMessageResponse_Packet:
			c.mu.Lock()
			events := c.events
			c.mu.Unlock()

			if events == nil {
				continue
			}

			// Drop rather than block when the consumer falls behind; the
			// stream must keep draining so arbitration stays responsive.
			select {
			case events <- m.Packet.Payload:
			default:
				c.log.Warn().Str("device", c.cfg.Device.Name).Msg("Packet-in buffer full, dropping event")
			}
		default:
		}
	}
}

// ClaimMastership sends our election id on the stream and waits for the
// switch's arbitration verdict.
func (c *Conn) ClaimMastership(ctx context.Context) error {
	c.mu.Lock()
	stream := c.stream
	arbCh := c.arbCh
	if c.state != StateConnected || stream == nil {
		state := c.state
		c.mu.Unlock()

		return fmt.Errorf("%w: %s is %s", ErrNotConnected, c.cfg.Device.Name, state)
	}
	c.mu.Unlock()

	req := &p4v1.StreamMessageRequest{
		Update: &p4v1.StreamMessageRequest_Arbitration{
			Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   c.cfg.Device.DeviceID,
				ElectionId: c.cfg.ElectionID.proto(),
			},
		},
	}

	if err := stream.Send(req); err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("send arbitration for %s: %w", c.cfg.Device.Name, err)
	}

	select {
	case <-ctx.Done():
		c.setState(StateFailed)
		return fmt.Errorf("%w for %s: %w", errArbitrationReply, c.cfg.Device.Name, ctx.Err())
	case arb, ok := <-arbCh:
		if !ok {
			c.setState(StateFailed)
			return fmt.Errorf("%w while arbitrating for %s", ErrStreamClosed, c.cfg.Device.Name)
		}

		if arb.Status.GetCode() != int32(codes.OK) {
			c.setState(StateFailed)
			return fmt.Errorf("%w: %s rejected election id with %q",
				ErrNotMaster, c.cfg.Device.Name, arb.Status.GetMessage())
		}
	}

	c.setState(StateMaster)
	c.log.Info().Str("device", c.cfg.Device.Name).Msg("Mastership granted")

	return nil
}

// PushPipeline installs the forwarding pipeline with VERIFY_AND_COMMIT.
// Pushing again on an already-ready connection is allowed and leaves the
// state untouched.
func (c *Conn) PushPipeline(ctx context.Context, info *p4configv1.P4Info, deviceConfig []byte) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateMaster && state != StatePipelineLoaded && state != StateReady {
		return fmt.Errorf("%w: cannot push pipeline to %s while %s", ErrNotMaster, c.cfg.Device.Name, state)
	}

	req := &p4v1.SetForwardingPipelineConfigRequest{
		DeviceId:   c.cfg.Device.DeviceID,
		ElectionId: c.cfg.ElectionID.proto(),
		Action:     p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4v1.ForwardingPipelineConfig{
			P4Info:         info,
			P4DeviceConfig: deviceConfig,
		},
	}

	if _, err := c.client.SetForwardingPipelineConfig(ctx, req); err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("push pipeline to %s: %w", c.cfg.Device.Name, err)
	}

	c.mu.Lock()
	if c.state == StateMaster {
		c.state = StatePipelineLoaded
	}
	c.mu.Unlock()

	c.log.Info().Str("device", c.cfg.Device.Name).Msg("Forwarding pipeline installed")

	return nil
}

// MarkReady transitions a pipeline-loaded connection to ready, opening rule
// installation. Called once the whole fleet cleared bring-up.
func (c *Conn) MarkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReady:
		return nil
	case StatePipelineLoaded:
		c.state = StateReady
		return nil
	default:
		return fmt.Errorf("%w: %s is %s", ErrPipelineNotReady, c.cfg.Device.Name, c.state)
	}
}

// InstallRule inserts one table entry.
func (c *Conn) InstallRule(ctx context.Context, entry *p4v1.TableEntry) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	err := c.write(ctx, &p4v1.Entity{
		Entity: &p4v1.Entity_TableEntry{TableEntry: entry},
	})
	if err != nil {
		return fmt.Errorf("insert into table %d on %s: %w", entry.TableId, c.cfg.Device.Name, err)
	}

	return nil
}

// InstallMirrorSession inserts one clone-session entry into the packet
// replication engine.
func (c *Conn) InstallMirrorSession(ctx context.Context, session *p4v1.CloneSessionEntry) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	err := c.write(ctx, &p4v1.Entity{
		Entity: &p4v1.Entity_PacketReplicationEngineEntry{
			PacketReplicationEngineEntry: &p4v1.PacketReplicationEngineEntry{
				Type: &p4v1.PacketReplicationEngineEntry_CloneSessionEntry{
					CloneSessionEntry: session,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("install clone session %d on %s: %w", session.SessionId, c.cfg.Device.Name, err)
	}

	return nil
}

func (c *Conn) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady {
		return fmt.Errorf("%w: %s is %s", ErrPipelineNotReady, c.cfg.Device.Name, c.state)
	}

	return nil
}

func (c *Conn) write(ctx context.Context, entity *p4v1.Entity) error {
	req := &p4v1.WriteRequest{
		DeviceId:   c.cfg.Device.DeviceID,
		ElectionId: c.cfg.ElectionID.proto(),
		Updates: []*p4v1.Update{
			{Type: p4v1.Update_INSERT, Entity: entity},
		},
	}

	_, err := c.client.Write(ctx, req)

	return err
}

// Events returns the packet-in payload channel. It is closed when the
// stream ends; consult Err afterwards.
func (c *Conn) Events() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.events
}

// Err reports the error that ended the stream, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	return c.streamErr
}

// Close cancels the stream and releases the connection. Safe to call more
// than once; later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDisconnected
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		if c.grpcClient != nil {
			c.closeErr = c.grpcClient.Close()
		}
	})

	return c.closeErr
}
