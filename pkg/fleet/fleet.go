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

// Package fleet orchestrates a set of P4Runtime switches: barrier-style
// bring-up, declarative rule installation and congestion monitoring over
// the cloned packet-in streams.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/fabricwatch/pkg/device"
	"github.com/carverauto/fabricwatch/pkg/ecn"
	"github.com/carverauto/fabricwatch/pkg/intent"
	"github.com/carverauto/fabricwatch/pkg/logger"
	"github.com/carverauto/fabricwatch/pkg/p4info"
)

// Fleet drives every configured switch through bring-up, installs the
// configured intents and monitors packet-ins. It implements
// lifecycle.Service.
type Fleet struct {
	cfg          *Config
	log          logger.Logger
	schema       *p4info.Schema
	deviceConfig []byte
	builder      *intent.Builder

	mu       sync.Mutex
	sessions map[string]Session

	// newSession builds the control channel for one switch; swapped by
	// tests.
	newSession func(device.Config) Session

	alertMu sync.Mutex

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	teardownOnce sync.Once
}

// New loads the pipeline artifacts and prepares an orchestrator for the
// configured fleet. Nothing is dialed until BringUp.
func New(cfg *Config, log logger.Logger) (*Fleet, error) {
	schema, err := p4info.Load(cfg.P4InfoFile)
	if err != nil {
		return nil, fmt.Errorf("load p4info: %w", err)
	}

	deviceConfig, err := os.ReadFile(cfg.DeviceConfigFile)
	if err != nil {
		return nil, fmt.Errorf("read device config: %w", err)
	}

	return newFleet(cfg, schema, deviceConfig, log), nil
}

func newFleet(cfg *Config, schema *p4info.Schema, deviceConfig []byte, log logger.Logger) *Fleet {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Fleet{
		cfg:          cfg,
		log:          log,
		schema:       schema,
		deviceConfig: deviceConfig,
		builder:      intent.NewBuilder(schema),
		sessions:     make(map[string]Session, len(cfg.Devices)),
		newSession: func(dc device.Config) Session {
			return device.New(dc)
		},
	}
}

// BringUp connects, arbitrates mastership and pushes the pipeline on every
// switch, then marks the fleet ready. It is a barrier: no switch is marked
// ready until all of them hold the pipeline. On partial failure the
// survivors stay connected (but not ready) and the returned error names
// every switch that failed.
func (f *Fleet) BringUp(ctx context.Context) error {
	if timeout := time.Duration(f.cfg.BringUpTimeout); timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		failMu   sync.Mutex
		failures = make(map[string]error)
	)

	var g errgroup.Group

	for i := range f.cfg.Devices {
		d := f.cfg.Devices[i]

		session := f.newSession(device.Config{
			Device:     d,
			ElectionID: f.cfg.ElectionID,
			Security:   f.cfg.Security,
			MaxRetries: f.cfg.MaxRetries,
			Logger:     f.log,
		})

		f.mu.Lock()
		f.sessions[d.Name] = session
		f.mu.Unlock()

		g.Go(func() error {
			if err := f.bringUpDevice(ctx, session); err != nil {
				failMu.Lock()
				failures[d.Name] = err
				failMu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}

		sort.Strings(names)

		errs := make([]error, 0, len(names))
		for _, name := range names {
			errs = append(errs, failures[name])
		}

		// Failed sessions stay in the map in their failed state; whether to
		// tear down or retry them is the caller's call.
		return fmt.Errorf("%w for %s: %w", ErrBringUpFailed, strings.Join(names, ", "), errors.Join(errs...))
	}

	for _, session := range f.snapshot() {
		if err := session.MarkReady(); err != nil {
			return err
		}
	}

	f.log.Info().Int("devices", len(f.cfg.Devices)).Msg("Fleet ready")

	return nil
}

func (f *Fleet) bringUpDevice(ctx context.Context, session Session) error {
	if err := session.Connect(ctx); err != nil {
		return err
	}

	if err := session.ClaimMastership(ctx); err != nil {
		return err
	}

	return session.PushPipeline(ctx, f.schema.P4Info(), f.deviceConfig)
}

// ApplyIntents installs per-device intent lists, concurrent across devices
// and in order within each device. Failures are isolated per entry: an
// intent that fails to validate, translate or install never blocks the
// remaining entries of its device or any other device. All failures are
// collected into the returned error.
func (f *Fleet) ApplyIntents(ctx context.Context, intents map[string][]intent.Intent) error {
	sessions := f.snapshot()

	type planEntry struct {
		index int
		entry intent.Entry
	}

	type plan struct {
		session Session
		entries []planEntry
	}

	plans := make(map[string]plan, len(intents))

	var (
		failMu sync.Mutex
		failed []*EntryError
	)

	for name, list := range intents {
		session, ok := sessions[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownDevice, name)
		}

		entries := make([]planEntry, 0, len(list))

		for i, in := range list {
			entry, err := f.builder.Build(in)
			if err != nil {
				failed = append(failed, &EntryError{Device: name, Index: i, Err: err})
				continue
			}

			entries = append(entries, planEntry{index: i, entry: entry})
		}

		plans[name] = plan{session: session, entries: entries}
	}

	var wg sync.WaitGroup

	for name, p := range plans {
		wg.Add(1)

		go func(name string, p plan) {
			defer wg.Done()

			for _, pe := range p.entries {
				var err error

				switch {
				case pe.entry.Table != nil:
					err = p.session.InstallRule(ctx, pe.entry.Table)
				case pe.entry.Clone != nil:
					err = p.session.InstallMirrorSession(ctx, pe.entry.Clone)
				}

				if err != nil {
					failMu.Lock()
					failed = append(failed, &EntryError{Device: name, Index: pe.index, Err: err})
					failMu.Unlock()
				}
			}
		}(name, p)
	}

	wg.Wait()

	if len(failed) == 0 {
		return nil
	}

	sort.Slice(failed, func(i, j int) bool {
		if failed[i].Device != failed[j].Device {
			return failed[i].Device < failed[j].Device
		}

		return failed[i].Index < failed[j].Index
	})

	errs := make([]error, 0, len(failed))
	for _, e := range failed {
		errs = append(errs, e)
	}

	return fmt.Errorf("%w: %w", ErrApplyFailed, errors.Join(errs...))
}

// Monitor consumes packet-in events from every ready switch until ctx is
// cancelled. Per-device ordering is preserved and onAlert invocations are
// serialized. A switch whose stream dies is logged and dropped from
// monitoring; the rest keep going.
func (f *Fleet) Monitor(ctx context.Context, predicate Predicate, onAlert AlertFunc) {
	if predicate == nil {
		predicate = CongestionExperienced
	}

	var wg sync.WaitGroup

	for name, session := range f.snapshot() {
		if session.State() != device.StateReady {
			continue
		}

		wg.Add(1)

		go func(name string, session Session) {
			defer wg.Done()
			f.monitorDevice(ctx, name, session, predicate, onAlert)
		}(name, session)
	}

	wg.Wait()
}

func (f *Fleet) monitorDevice(ctx context.Context, name string, session Session, predicate Predicate, onAlert AlertFunc) {
	events := session.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				if err := session.Err(); err != nil {
					f.log.Error().Err(err).Str("device", name).Msg("Packet-in stream ended")
				}

				return
			}

			marker, err := ecn.Parse(payload)
			if err != nil {
				f.log.Warn().Err(err).Str("device", name).Msg("Undecodable packet-in, skipping")
				continue
			}

			if predicate(marker) {
				f.alertMu.Lock()
				onAlert(name, marker)
				f.alertMu.Unlock()
			}
		}
	}
}

// Teardown closes every session. Errors are logged, not returned; calling
// it again is a no-op.
func (f *Fleet) Teardown() {
	f.teardownOnce.Do(func() {
		for name, session := range f.snapshot() {
			if err := session.Close(); err != nil {
				f.log.Error().Err(err).Str("device", name).Msg("Error closing session")
			}
		}

		f.log.Info().Msg("Fleet torn down")
	})
}

// Start brings the fleet up, applies the configured intents and launches
// background monitoring. Part of the lifecycle.Service contract.
func (f *Fleet) Start(ctx context.Context) error {
	if err := f.BringUp(ctx); err != nil {
		return err
	}

	intents, err := f.cfg.fleetIntents()
	if err != nil {
		return err
	}

	if err := f.ApplyIntents(ctx, intents); err != nil {
		return err
	}

	// The monitor outlives Start's ctx; Stop cancels it.
	monitorCtx, cancel := context.WithCancel(context.Background())
	f.monitorCancel = cancel
	f.monitorDone = make(chan struct{})

	go func() {
		defer close(f.monitorDone)
		f.Monitor(monitorCtx, CongestionExperienced, f.logAlert)
	}()

	return nil
}

// Stop cancels monitoring and tears the fleet down.
func (f *Fleet) Stop(ctx context.Context) error {
	if f.monitorCancel != nil {
		f.monitorCancel()
	}

	if f.monitorDone != nil {
		select {
		case <-f.monitorDone:
		case <-ctx.Done():
		}
	}

	f.Teardown()

	return nil
}

func (f *Fleet) logAlert(name string, marker ecn.Marker) {
	f.log.Warn().
		Str("device", name).
		Str("marker", marker.String()).
		Msg("Congestion experienced")
}

func (f *Fleet) snapshot() map[string]Session {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]Session, len(f.sessions))
	for name, s := range f.sessions {
		out[name] = s
	}

	return out
}
