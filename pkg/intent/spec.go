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

package intent

import (
	"encoding/json"
	"fmt"
)

// Spec is the JSON configuration form of an intent, discriminated by the
// "type" field.
type Spec struct {
	Type string `json:"type"`

	// route
	Route

	// acl: Table is shared with default_action
	ACL

	// default_action
	Action string            `json:"action,omitempty"`
	Params map[string]uint64 `json:"params,omitempty"`

	// mirror
	Mirror
}

// Intent returns the validated intent variant this spec describes.
func (s *Spec) Intent() (Intent, error) {
	var it Intent

	switch s.Type {
	case "route":
		it = s.Route
	case "acl":
		it = s.ACL
	case "default_action":
		it = DefaultAction{Table: s.ACL.Table, Action: s.Action, Params: s.Params}
	case "mirror":
		it = s.Mirror
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIntentType, s.Type)
	}

	if err := it.Validate(); err != nil {
		return nil, fmt.Errorf("intent type %q: %w", s.Type, err)
	}

	return it, nil
}

// UnmarshalJSON flattens the variant fields into the spec.
func (s *Spec) UnmarshalJSON(data []byte) error {
	type alias struct {
		Type string `json:"type"`

		DstPrefix  string `json:"dst_prefix"`
		PrefixLen  uint8  `json:"prefix_len"`
		NextHopMAC string `json:"next_hop_mac"`
		Port       uint32 `json:"port"`

		Table    string `json:"table"`
		Field    string `json:"field"`
		Value    string `json:"value"`
		Mask     string `json:"mask"`
		Priority int32  `json:"priority"`

		Action string            `json:"action"`
		Params map[string]uint64 `json:"params"`

		SessionID uint32    `json:"session_id"`
		Replicas  []Replica `json:"replicas"`
	}

	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	*s = Spec{
		Type:   a.Type,
		Route:  Route{DstPrefix: a.DstPrefix, PrefixLen: a.PrefixLen, NextHopMAC: a.NextHopMAC, Port: a.Port},
		ACL:    ACL{Table: a.Table, Field: a.Field, Value: a.Value, Mask: a.Mask, Priority: a.Priority},
		Action: a.Action,
		Params: a.Params,
		Mirror: Mirror{SessionID: a.SessionID, Replicas: a.Replicas},
	}

	return nil
}
