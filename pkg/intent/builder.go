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
	"fmt"
	"net"
	"sort"
	"strconv"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/carverauto/fabricwatch/pkg/p4info"
)

// Names the forwarding program is expected to expose. A mismatch with the
// loaded schema surfaces as a p4info.ErrUnknownName before any device call.
const (
	routeTable      = "MyIngress.ipv4_lpm"
	routeMatchField = "hdr.ipv4.dstAddr"
	routeAction     = "MyIngress.ipv4_forward"
	routeParamMAC   = "dstAddr"
	routeParamPort  = "port"
	dropAction      = "MyIngress.drop"

	ecnTable          = "MyEgress.check_ecn"
	ecnMarkAction     = "MyEgress.mark_ecn"
	ecnThresholdParam = "ecn_threshold"
)

// MarkECNDefault returns the default-action intent that arms the egress
// congestion check with the given queue-depth threshold.
func MarkECNDefault(threshold uint64) DefaultAction {
	return DefaultAction{
		Table:  ecnTable,
		Action: ecnMarkAction,
		Params: map[string]uint64{ecnThresholdParam: threshold},
	}
}

// Builder translates intents to protocol entries against one forwarding
// program schema. Pure and deterministic; it performs no network I/O.
type Builder struct {
	schema *p4info.Schema
}

func NewBuilder(schema *p4info.Schema) *Builder {
	return &Builder{schema: schema}
}

// Entry is one built protocol entity. Exactly one field is set: table
// entries and clone sessions go to the device through different write
// surfaces.
type Entry struct {
	Table *p4v1.TableEntry
	Clone *p4v1.CloneSessionEntry
}

// Build translates any intent variant to its protocol entity.
func (b *Builder) Build(in Intent) (Entry, error) {
	switch it := in.(type) {
	case Route:
		e, err := b.RouteEntry(it)
		return Entry{Table: e}, err
	case ACL:
		e, err := b.ACLEntry(it)
		return Entry{Table: e}, err
	case DefaultAction:
		e, err := b.DefaultActionEntry(it)
		return Entry{Table: e}, err
	case Mirror:
		e, err := b.CloneSession(it)
		return Entry{Clone: e}, err
	default:
		return Entry{}, fmt.Errorf("%w: %T", ErrUnknownIntentType, in)
	}
}

// RouteEntry builds the LPM table entry for a route intent.
func (b *Builder) RouteEntry(rt Route) (*p4v1.TableEntry, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}

	tableID, err := b.schema.TableID(routeTable)
	if err != nil {
		return nil, err
	}

	fieldID, _, err := b.schema.MatchField(routeTable, routeMatchField)
	if err != nil {
		return nil, err
	}

	actionID, err := b.schema.ActionID(routeAction)
	if err != nil {
		return nil, err
	}

	macID, _, err := b.schema.ActionParam(routeAction, routeParamMAC)
	if err != nil {
		return nil, err
	}

	portID, portWidth, err := b.schema.ActionParam(routeAction, routeParamPort)
	if err != nil {
		return nil, err
	}

	mac, _ := net.ParseMAC(rt.NextHopMAC)

	portBytes, err := encodeUint(uint64(rt.Port), portWidth)
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}

	entry := &p4v1.TableEntry{
		TableId: tableID,
		Action: &p4v1.TableAction{
			Type: &p4v1.TableAction_Action{
				Action: &p4v1.Action{
					ActionId: actionID,
					Params: []*p4v1.Action_Param{
						{ParamId: macID, Value: mac},
						{ParamId: portID, Value: portBytes},
					},
				},
			},
		},
	}

	// A zero-length prefix matches everything; the protocol requires the
	// field to be omitted rather than sent with prefix_len 0.
	if rt.PrefixLen > 0 {
		entry.Match = []*p4v1.FieldMatch{
			{
				FieldId: fieldID,
				FieldMatchType: &p4v1.FieldMatch_Lpm{
					Lpm: &p4v1.FieldMatch_LPM{
						Value:     net.ParseIP(rt.DstPrefix).To4(),
						PrefixLen: int32(rt.PrefixLen),
					},
				},
			},
		}
	}

	return entry, nil
}

// ACLEntry builds a ternary drop entry with the intent's explicit priority.
func (b *Builder) ACLEntry(acl ACL) (*p4v1.TableEntry, error) {
	if err := acl.Validate(); err != nil {
		return nil, err
	}

	tableID, err := b.schema.TableID(acl.Table)
	if err != nil {
		return nil, err
	}

	fieldID, fieldWidth, err := b.schema.MatchField(acl.Table, acl.Field)
	if err != nil {
		return nil, err
	}

	actionID, err := b.schema.ActionID(dropAction)
	if err != nil {
		return nil, err
	}

	value, err := parseFieldValue(acl.Value, fieldWidth)
	if err != nil {
		return nil, err
	}

	mask := fullMask(fieldWidth)

	if acl.Mask != "" {
		mask, err = parseFieldValue(acl.Mask, fieldWidth)
		if err != nil {
			return nil, err
		}
	}

	return &p4v1.TableEntry{
		TableId:  tableID,
		Priority: acl.Priority,
		Match: []*p4v1.FieldMatch{
			{
				FieldId: fieldID,
				FieldMatchType: &p4v1.FieldMatch_Ternary_{
					Ternary: &p4v1.FieldMatch_Ternary{Value: value, Mask: mask},
				},
			},
		},
		Action: &p4v1.TableAction{
			Type: &p4v1.TableAction_Action{
				Action: &p4v1.Action{ActionId: actionID},
			},
		},
	}, nil
}

// DefaultActionEntry builds a keyless entry replacing a table's default
// action. Parameters are emitted in name order so output is deterministic.
func (b *Builder) DefaultActionEntry(da DefaultAction) (*p4v1.TableEntry, error) {
	if err := da.Validate(); err != nil {
		return nil, err
	}

	tableID, err := b.schema.TableID(da.Table)
	if err != nil {
		return nil, err
	}

	actionID, err := b.schema.ActionID(da.Action)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(da.Params))
	for name := range da.Params {
		names = append(names, name)
	}

	sort.Strings(names)

	params := make([]*p4v1.Action_Param, 0, len(names))

	for _, name := range names {
		paramID, paramWidth, paramErr := b.schema.ActionParam(da.Action, name)
		if paramErr != nil {
			return nil, paramErr
		}

		value, paramErr := encodeUint(da.Params[name], paramWidth)
		if paramErr != nil {
			return nil, fmt.Errorf("param %s: %w", name, paramErr)
		}

		params = append(params, &p4v1.Action_Param{
			ParamId: paramID,
			Value:   value,
		})
	}

	return &p4v1.TableEntry{
		TableId:         tableID,
		IsDefaultAction: true,
		Action: &p4v1.TableAction{
			Type: &p4v1.TableAction_Action{
				Action: &p4v1.Action{ActionId: actionID, Params: params},
			},
		},
	}, nil
}

// CloneSession builds the replication-engine entry for a mirror intent.
func (b *Builder) CloneSession(m Mirror) (*p4v1.CloneSessionEntry, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	replicas := make([]*p4v1.Replica, 0, len(m.Replicas))
	for _, r := range m.Replicas {
		replicas = append(replicas, &p4v1.Replica{EgressPort: r.Port, Instance: r.Instance})
	}

	return &p4v1.CloneSessionEntry{
		SessionId: m.SessionID,
		Replicas:  replicas,
	}, nil
}

// encodeUint packs v into the canonical big-endian byte string for a field
// of the given bitwidth. Values that do not fit the field are rejected
// rather than truncated.
func encodeUint(v uint64, bitwidth int32) ([]byte, error) {
	if bitwidth > 0 && bitwidth < 64 && v >= 1<<uint(bitwidth) {
		return nil, fmt.Errorf("%w: %d exceeds %d bits", ErrBadFieldValue, v, bitwidth)
	}

	n := int(bitwidth+7) / 8
	if n == 0 {
		n = 1
	}

	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}

	return buf, nil
}

// fullMask returns the all-ones mask for a field of the given bitwidth.
func fullMask(bitwidth int32) []byte {
	n := int(bitwidth+7) / 8
	if n == 0 {
		n = 1
	}

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0xFF
	}

	if rem := int(bitwidth) % 8; rem != 0 {
		buf[0] = byte(0xFF >> (8 - rem))
	}

	return buf
}

// parseFieldValue interprets a configured match value as either a dotted
// IPv4 address or an unsigned integer (decimal or 0x-prefixed hex).
func parseFieldValue(s string, bitwidth int32) ([]byte, error) {
	if ip := net.ParseIP(s); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}

		return nil, fmt.Errorf("%w: %q is not IPv4", ErrBadFieldValue, s)
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadFieldValue, s)
	}

	return encodeUint(v, bitwidth)
}
