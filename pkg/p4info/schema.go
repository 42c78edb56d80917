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

// Package p4info wraps the compiler-emitted schema of a forwarding program
// and resolves table, action and field names to their protocol identifiers.
package p4info

import (
	"fmt"
	"os"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/protoadapt"
)

// Schema is an indexed view over a P4Info descriptor. Name lookups accept
// the fully-qualified name and fall back to the compiler-assigned alias.
type Schema struct {
	info    *p4configv1.P4Info
	tables  map[string]*p4configv1.Table
	actions map[string]*p4configv1.Action
}

// Load reads and parses a prototext P4Info file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read P4Info file '%s': %w", path, err)
	}

	schema, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse P4Info from '%s': %w", path, err)
	}

	return schema, nil
}

// Parse builds a Schema from prototext P4Info bytes.
func Parse(data []byte) (*Schema, error) {
	info := &p4configv1.P4Info{}
	if err := prototext.Unmarshal(data, protoadapt.MessageV2Of(info)); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedP4Info, err)
	}

	s := &Schema{
		info:    info,
		tables:  make(map[string]*p4configv1.Table, len(info.GetTables())),
		actions: make(map[string]*p4configv1.Action, len(info.GetActions())),
	}

	for _, table := range info.GetTables() {
		s.tables[table.GetPreamble().GetName()] = table

		if alias := table.GetPreamble().GetAlias(); alias != "" {
			s.tables[alias] = table
		}
	}

	for _, action := range info.GetActions() {
		s.actions[action.GetPreamble().GetName()] = action

		if alias := action.GetPreamble().GetAlias(); alias != "" {
			s.actions[alias] = action
		}
	}

	return s, nil
}

// P4Info returns the underlying descriptor for pipeline installation.
func (s *Schema) P4Info() *p4configv1.P4Info {
	return s.info
}

// TableID resolves a table name to its numeric identifier.
func (s *Schema) TableID(name string) (uint32, error) {
	table, ok := s.tables[name]
	if !ok {
		return 0, fmt.Errorf("%w: table %q", ErrUnknownName, name)
	}

	return table.GetPreamble().GetId(), nil
}

// ActionID resolves an action name to its numeric identifier.
func (s *Schema) ActionID(name string) (uint32, error) {
	action, ok := s.actions[name]
	if !ok {
		return 0, fmt.Errorf("%w: action %q", ErrUnknownName, name)
	}

	return action.GetPreamble().GetId(), nil
}

// MatchField resolves a match field of a table by name.
func (s *Schema) MatchField(table, field string) (id uint32, bitwidth int32, err error) {
	t, ok := s.tables[table]
	if !ok {
		return 0, 0, fmt.Errorf("%w: table %q", ErrUnknownName, table)
	}

	for _, mf := range t.GetMatchFields() {
		if mf.GetName() == field {
			return mf.GetId(), mf.GetBitwidth(), nil
		}
	}

	return 0, 0, fmt.Errorf("%w: match field %q in table %q", ErrUnknownName, field, table)
}

// ActionParam resolves a parameter of an action by name.
func (s *Schema) ActionParam(action, param string) (id uint32, bitwidth int32, err error) {
	a, ok := s.actions[action]
	if !ok {
		return 0, 0, fmt.Errorf("%w: action %q", ErrUnknownName, action)
	}

	for _, p := range a.GetParams() {
		if p.GetName() == param {
			return p.GetId(), p.GetBitwidth(), nil
		}
	}

	return 0, 0, fmt.Errorf("%w: param %q of action %q", ErrUnknownName, param, action)
}
