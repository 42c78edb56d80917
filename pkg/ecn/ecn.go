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

// Package ecn decodes the congestion marker the forwarding program prepends
// to cloned packets. The CPU header follows the 14-byte ethernet header and
// carries the marker in its first byte.
package ecn

import "errors"

// Marker is an ECN codepoint carried in packet metadata.
type Marker uint8

const (
	NotECT                Marker = 0
	ECT1                  Marker = 1
	ECT0                  Marker = 2
	CongestionExperienced Marker = 3
)

// markerOffset is the byte position of the marker in a cloned packet:
// dst MAC (6) + src MAC (6) + ethertype (2).
const markerOffset = 14

// ErrTruncatedPayload reports a cloned packet too short to carry a marker.
var ErrTruncatedPayload = errors.New("payload too short for congestion marker")

// Parse extracts the congestion marker from a cloned packet payload.
// Truncated payloads yield NotECT and ErrTruncatedPayload; callers are
// expected to log and continue, since packet-in delivery is best effort.
func Parse(payload []byte) (Marker, error) {
	if len(payload) < markerOffset+1 {
		return NotECT, ErrTruncatedPayload
	}

	return Marker(payload[markerOffset]), nil
}

func (m Marker) String() string {
	switch m {
	case NotECT:
		return "not-ect"
	case ECT1:
		return "ect(1)"
	case ECT0:
		return "ect(0)"
	case CongestionExperienced:
		return "ce"
	default:
		return "unknown"
	}
}
