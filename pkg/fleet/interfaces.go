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

package fleet

import (
	"context"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/carverauto/fabricwatch/pkg/device"
)

// Session is the fleet's view of one switch control channel.
type Session interface {
	Name() string
	Connect(ctx context.Context) error
	ClaimMastership(ctx context.Context) error
	PushPipeline(ctx context.Context, info *p4configv1.P4Info, deviceConfig []byte) error
	MarkReady() error
	InstallRule(ctx context.Context, entry *p4v1.TableEntry) error
	InstallMirrorSession(ctx context.Context, session *p4v1.CloneSessionEntry) error
	Events() <-chan []byte
	Err() error
	State() device.State
	Close() error
}

var _ Session = (*device.Conn)(nil)
