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

import "errors"

var (
	// ErrNotConnected is returned by operations that need an open control
	// channel before Connect has succeeded or after Close.
	ErrNotConnected = errors.New("device not connected")

	// ErrNotMaster is returned when the switch rejects our mastership claim
	// or when a master-only operation runs before ClaimMastership.
	ErrNotMaster = errors.New("controller is not master for device")

	// ErrPipelineNotReady is returned by rule installation before the
	// forwarding pipeline has been pushed and the device marked ready.
	ErrPipelineNotReady = errors.New("forwarding pipeline not ready")

	// ErrStreamClosed is returned when the bidirectional stream ended while
	// an operation was waiting on it.
	ErrStreamClosed = errors.New("stream channel closed")

	errAlreadyConnected = errors.New("device already connected")
	errArbitrationReply = errors.New("no arbitration update received")
)
