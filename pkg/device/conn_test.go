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

package device

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/carverauto/fabricwatch/pkg/logger"
	"github.com/carverauto/fabricwatch/pkg/models"
)

// fakeStream stands in for the bidirectional stream channel. Arbitration
// requests are answered synchronously with the configured status code.
type fakeStream struct {
	grpc.ClientStream

	arbCode int32
	// muteArb suppresses the automatic arbitration reply, leaving the
	// claimer waiting.
	muteArb bool

	mu      sync.Mutex
	sent    []*p4v1.StreamMessageRequest
	recvCh  chan *p4v1.StreamMessageResponse
	recvErr error
}

func newFakeStream(arbCode int32) *fakeStream {
	return &fakeStream{
		arbCode: arbCode,
		recvCh:  make(chan *p4v1.StreamMessageResponse, 8),
		recvErr: io.EOF,
	}
}

func (s *fakeStream) Send(req *p4v1.StreamMessageRequest) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	if arb := req.GetArbitration(); arb != nil && !s.muteArb {
		s.recvCh <- &p4v1.StreamMessageResponse{
			Update: &p4v1.StreamMessageResponse_Arbitration{
				Arbitration: &p4v1.MasterArbitrationUpdate{
					DeviceId:   arb.DeviceId,
					ElectionId: arb.ElectionId,
					Status:     &rpcstatus.Status{Code: s.arbCode, Message: "arbitration result"},
				},
			},
		}
	}

	return nil
}

func (s *fakeStream) Recv() (*p4v1.StreamMessageResponse, error) {
	msg, ok := <-s.recvCh
	if !ok {
		return nil, s.recvErr
	}

	return msg, nil
}

func (s *fakeStream) packetIn(payload []byte) {
	s.recvCh <- &p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Packet{
			Packet: &p4v1.PacketIn{Payload: payload},
		},
	}
}

func (s *fakeStream) end(err error) {
	s.recvErr = err
	close(s.recvCh)
}

func (s *fakeStream) sentRequests() []*p4v1.StreamMessageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*p4v1.StreamMessageRequest(nil), s.sent...)
}

type mockP4RuntimeClient struct {
	mock.Mock
	stream *fakeStream
}

func (m *mockP4RuntimeClient) Write(
	ctx context.Context, in *p4v1.WriteRequest, _ ...grpc.CallOption) (*p4v1.WriteResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*p4v1.WriteResponse), args.Error(1)
}

func (m *mockP4RuntimeClient) Read(
	_ context.Context, _ *p4v1.ReadRequest, _ ...grpc.CallOption) (p4v1.P4Runtime_ReadClient, error) {
	return nil, nil
}

func (m *mockP4RuntimeClient) SetForwardingPipelineConfig(
	ctx context.Context, in *p4v1.SetForwardingPipelineConfigRequest,
	_ ...grpc.CallOption) (*p4v1.SetForwardingPipelineConfigResponse, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*p4v1.SetForwardingPipelineConfigResponse), args.Error(1)
}

func (m *mockP4RuntimeClient) GetForwardingPipelineConfig(
	_ context.Context, _ *p4v1.GetForwardingPipelineConfigRequest,
	_ ...grpc.CallOption) (*p4v1.GetForwardingPipelineConfigResponse, error) {
	return nil, nil
}

func (m *mockP4RuntimeClient) StreamChannel(
	_ context.Context, _ ...grpc.CallOption) (p4v1.P4Runtime_StreamChannelClient, error) {
	return m.stream, nil
}

func (m *mockP4RuntimeClient) Capabilities(
	_ context.Context, _ *p4v1.CapabilitiesRequest, _ ...grpc.CallOption) (*p4v1.CapabilitiesResponse, error) {
	return nil, nil
}

func testConn(arbCode int32) (*Conn, *mockP4RuntimeClient) {
	client := &mockP4RuntimeClient{stream: newFakeStream(arbCode)}
	conn := newWithClient(Config{
		Device:     models.Device{Name: "s1", Address: "127.0.0.1:50051", DeviceID: 0},
		ElectionID: ElectionID{Low: 1},
		Logger:     logger.NewTestLogger(),
	}, client)

	return conn, client
}

func bringUp(t *testing.T, conn *Conn, client *mockP4RuntimeClient) {
	t.Helper()

	ctx := context.Background()

	client.On("SetForwardingPipelineConfig", mock.Anything, mock.Anything).
		Return(&p4v1.SetForwardingPipelineConfigResponse{}, nil)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.ClaimMastership(ctx))
	require.NoError(t, conn.PushPipeline(ctx, &p4configv1.P4Info{}, []byte(`{"program":"ecn"}`)))
	require.NoError(t, conn.MarkReady())
}

func TestConnectAndClaimMastership(t *testing.T) {
	conn, client := testConn(int32(codes.OK))
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))
	assert.Equal(t, StateConnected, conn.State())

	require.NoError(t, conn.ClaimMastership(ctx))
	assert.Equal(t, StateMaster, conn.State())

	sent := client.stream.sentRequests()
	require.Len(t, sent, 1)

	arb := sent[0].GetArbitration()
	require.NotNil(t, arb)
	assert.Equal(t, uint64(0), arb.DeviceId)
	assert.Equal(t, uint64(1), arb.ElectionId.Low)
}

func TestConnectTwice(t *testing.T) {
	conn, _ := testConn(int32(codes.OK))

	require.NoError(t, conn.Connect(context.Background()))
	require.Error(t, conn.Connect(context.Background()))
}

func TestClaimMastershipRejected(t *testing.T) {
	conn, _ := testConn(int32(codes.PermissionDenied))
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))

	err := conn.ClaimMastership(ctx)
	require.ErrorIs(t, err, ErrNotMaster)
	assert.Equal(t, StateFailed, conn.State())
}

func TestClaimMastershipUnblocksOnStreamDeath(t *testing.T) {
	conn, client := testConn(int32(codes.OK))
	client.stream.muteArb = true

	require.NoError(t, conn.Connect(context.Background()))

	errCh := make(chan error, 1)

	go func() {
		errCh <- conn.ClaimMastership(context.Background())
	}()

	require.Eventually(t, func() bool {
		return len(client.stream.sentRequests()) == 1
	}, time.Second, 10*time.Millisecond)

	client.stream.end(errors.New("transport reset"))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStreamClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("claim still blocked after the stream died")
	}

	assert.Equal(t, StateFailed, conn.State())
}

func TestClaimMastershipBeforeConnect(t *testing.T) {
	conn, _ := testConn(int32(codes.OK))

	require.ErrorIs(t, conn.ClaimMastership(context.Background()), ErrNotConnected)
}

func TestPushPipeline(t *testing.T) {
	conn, client := testConn(int32(codes.OK))
	ctx := context.Background()

	deviceConfig := []byte(`{"program":"ecn"}`)

	client.On("SetForwardingPipelineConfig", mock.Anything, mock.MatchedBy(
		func(req *p4v1.SetForwardingPipelineConfigRequest) bool {
			return req.Action == p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT &&
				string(req.Config.P4DeviceConfig) == string(deviceConfig) &&
				req.ElectionId.Low == 1
		})).Return(&p4v1.SetForwardingPipelineConfigResponse{}, nil)

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.ClaimMastership(ctx))
	require.NoError(t, conn.PushPipeline(ctx, &p4configv1.P4Info{}, deviceConfig))

	assert.Equal(t, StatePipelineLoaded, conn.State())
	client.AssertExpectations(t)
}

func TestPushPipelineRequiresMastership(t *testing.T) {
	conn, _ := testConn(int32(codes.OK))

	require.NoError(t, conn.Connect(context.Background()))

	err := conn.PushPipeline(context.Background(), &p4configv1.P4Info{}, nil)
	require.ErrorIs(t, err, ErrNotMaster)
}

func TestPushPipelineIdempotentFromReady(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)
	require.Equal(t, StateReady, conn.State())

	require.NoError(t, conn.PushPipeline(context.Background(), &p4configv1.P4Info{}, nil))
	assert.Equal(t, StateReady, conn.State())
}

func TestPushPipelineFailure(t *testing.T) {
	conn, client := testConn(int32(codes.OK))
	ctx := context.Background()

	client.On("SetForwardingPipelineConfig", mock.Anything, mock.Anything).
		Return(nil, errors.New("p4info verification failed"))

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.ClaimMastership(ctx))

	require.Error(t, conn.PushPipeline(ctx, &p4configv1.P4Info{}, nil))
	assert.Equal(t, StateFailed, conn.State())
}

func TestMarkReadyRequiresPipeline(t *testing.T) {
	conn, _ := testConn(int32(codes.OK))

	require.NoError(t, conn.Connect(context.Background()))
	require.ErrorIs(t, conn.MarkReady(), ErrPipelineNotReady)
}

func TestInstallRuleRequiresReady(t *testing.T) {
	conn, _ := testConn(int32(codes.OK))
	ctx := context.Background()

	require.NoError(t, conn.Connect(ctx))
	require.NoError(t, conn.ClaimMastership(ctx))

	err := conn.InstallRule(ctx, &p4v1.TableEntry{TableId: 100})
	require.ErrorIs(t, err, ErrPipelineNotReady)
}

func TestInstallRule(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)

	client.On("Write", mock.Anything, mock.MatchedBy(func(req *p4v1.WriteRequest) bool {
		if len(req.Updates) != 1 || req.Updates[0].Type != p4v1.Update_INSERT {
			return false
		}

		entry := req.Updates[0].Entity.GetTableEntry()

		return entry != nil && entry.TableId == 100
	})).Return(&p4v1.WriteResponse{}, nil)

	require.NoError(t, conn.InstallRule(context.Background(), &p4v1.TableEntry{TableId: 100}))
	client.AssertExpectations(t)
}

func TestInstallRuleWriteFailure(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)

	client.On("Write", mock.Anything, mock.Anything).Return(nil, errors.New("duplicate entry"))

	err := conn.InstallRule(context.Background(), &p4v1.TableEntry{TableId: 101})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table 101")
	// A rejected write is the device's verdict on one entry, not a channel
	// failure.
	assert.Equal(t, StateReady, conn.State())
}

func TestInstallMirrorSession(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)

	client.On("Write", mock.Anything, mock.MatchedBy(func(req *p4v1.WriteRequest) bool {
		pre := req.Updates[0].Entity.GetPacketReplicationEngineEntry()
		if pre == nil {
			return false
		}

		session := pre.GetCloneSessionEntry()

		return session != nil && session.SessionId == 100
	})).Return(&p4v1.WriteResponse{}, nil)

	session := &p4v1.CloneSessionEntry{
		SessionId: 100,
		Replicas:  []*p4v1.Replica{{EgressPort: 252, Instance: 1}},
	}

	require.NoError(t, conn.InstallMirrorSession(context.Background(), session))
	client.AssertExpectations(t)
}

func TestEventsDeliveredInOrder(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)

	payloads := [][]byte{{0x01}, {0x02}, {0x03}}
	for _, p := range payloads {
		client.stream.packetIn(p)
	}

	events := conn.Events()
	for _, want := range payloads {
		select {
		case got := <-events:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for packet-in")
		}
	}
}

func TestEventsClosedOnStreamError(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)

	events := conn.Events()
	streamErr := errors.New("transport reset")
	client.stream.end(streamErr)

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	require.ErrorIs(t, conn.Err(), streamErr)
	assert.Equal(t, StateFailed, conn.State())
}

func TestCloseIdempotent(t *testing.T) {
	conn, client := testConn(int32(codes.OK))

	bringUp(t, conn, client)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, StateDisconnected, conn.State())

	// A stream ending after a deliberate close is not a failure.
	events := conn.Events()
	client.stream.end(io.EOF)

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	assert.Equal(t, StateDisconnected, conn.State())
}
