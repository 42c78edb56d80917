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
	"fmt"

	"github.com/carverauto/fabricwatch/pkg/ecn"
)

// EntryError reports one intent that a device rejected during ApplyIntents.
// The index is the intent's position in that device's list.
type EntryError struct {
	Device string
	Index  int
	Err    error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("device %s intent %d: %v", e.Device, e.Index, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Predicate decides whether a decoded marker is alert-worthy.
type Predicate func(ecn.Marker) bool

// AlertFunc receives congestion alerts. Invocations are serialized; the
// device name identifies the reporting switch.
type AlertFunc func(deviceName string, marker ecn.Marker)

// CongestionExperienced is the default monitoring predicate: alert only on
// the congestion-experienced marker.
func CongestionExperienced(m ecn.Marker) bool {
	return m == ecn.CongestionExperienced
}
