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

// Package intent describes desired device behavior declaratively and
// translates it to protocol-level table entries. Intents form a closed set
// of variants validated before any device call, so a bad route or ACL never
// reaches a switch.
package intent

import (
	"fmt"
	"net"
)

const maxPrefixLen = 32

// Intent is one declarative piece of desired device behavior.
type Intent interface {
	Validate() error
	isIntent()
}

// Route requests longest-prefix-match forwarding of an IPv4 destination
// prefix to a next hop out of an egress port.
type Route struct {
	DstPrefix  string `json:"dst_prefix"`
	PrefixLen  uint8  `json:"prefix_len"`
	NextHopMAC string `json:"next_hop_mac"`
	Port       uint32 `json:"port"`
}

func (Route) isIntent() {}

func (r Route) Validate() error {
	if r.PrefixLen > maxPrefixLen {
		return fmt.Errorf("%w: %d", ErrPrefixLength, r.PrefixLen)
	}

	if ip := net.ParseIP(r.DstPrefix); ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: %q", ErrBadAddress, r.DstPrefix)
	}

	if _, err := net.ParseMAC(r.NextHopMAC); err != nil {
		return fmt.Errorf("%w: %q", ErrBadMAC, r.NextHopMAC)
	}

	return nil
}

// ACL requests a drop rule with a ternary match on one field of the given
// table. The device resolves overlapping matches by priority, higher wins,
// so an explicit positive priority is required. An empty mask means an
// exact match on every bit of the field.
type ACL struct {
	Table    string `json:"table"`
	Field    string `json:"field"`
	Value    string `json:"value"`
	Mask     string `json:"mask,omitempty"`
	Priority int32  `json:"priority"`
}

func (ACL) isIntent() {}

func (a ACL) Validate() error {
	if a.Table == "" {
		return ErrMissingTable
	}

	if a.Field == "" {
		return ErrMissingField
	}

	if a.Value == "" {
		return fmt.Errorf("%w: empty value", ErrBadFieldValue)
	}

	if a.Priority <= 0 {
		return fmt.Errorf("%w: got %d", ErrPriorityRequired, a.Priority)
	}

	return nil
}

// DefaultAction installs an action as a table's default, replacing whatever
// the forwarding program declared. Used for tables whose behavior is driven
// entirely by action parameters, such as the congestion-check table.
type DefaultAction struct {
	Table  string            `json:"table"`
	Action string            `json:"action"`
	Params map[string]uint64 `json:"params,omitempty"`
}

func (DefaultAction) isIntent() {}

func (d DefaultAction) Validate() error {
	if d.Table == "" {
		return ErrMissingTable
	}

	if d.Action == "" {
		return ErrMissingAction
	}

	return nil
}

// Replica is one destination of a mirror session.
type Replica struct {
	Port     uint32 `json:"port"`
	Instance uint32 `json:"instance"`
}

// Mirror requests a clone session that duplicates matching traffic to the
// replica ports. Installed through the replication engine, not as a table
// entry.
type Mirror struct {
	SessionID uint32    `json:"session_id"`
	Replicas  []Replica `json:"replicas"`
}

func (Mirror) isIntent() {}

func (m Mirror) Validate() error {
	if m.SessionID == 0 {
		return ErrSessionIDRequired
	}

	if len(m.Replicas) == 0 {
		return ErrNoReplicas
	}

	return nil
}
