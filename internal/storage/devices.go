// Waymark - GPS Telemetry Ingestion and Live Tracking
// Copyright 2026 Waymark Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-io/waymark

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/waymark-io/waymark/internal/models"
)

// DeviceKeyPrefix namespaces device control records.
const DeviceKeyPrefix = "device/"

// DeviceKey returns the control record key for a device.
func DeviceKey(deviceID string) string {
	return DeviceKeyPrefix + deviceID
}

// DeviceStore is the typed wrapper for device control records. The
// operator-written config half and the device-written status half are
// merged independently; neither write touches the other half.
type DeviceStore struct {
	store Store
	now   func() time.Time
}

// NewDeviceStore creates a DeviceStore.
func NewDeviceStore(store Store) *DeviceStore {
	return &DeviceStore{store: store, now: time.Now}
}

// SetRequestedMode writes the operator's requested mode with a
// server-assigned timestamp. Concurrent calls resolve last-write-wins.
func (s *DeviceStore) SetRequestedMode(ctx context.Context, deviceID, mode string) (*models.DeviceControlState, error) {
	return s.merge(ctx, deviceID, func(state *models.DeviceControlState) {
		state.Config = models.ControlConfig{Mode: mode, Timestamp: s.now().UTC()}
	})
}

// ReportMode records the mode the device reports itself running in.
func (s *DeviceStore) ReportMode(ctx context.Context, deviceID, mode string) (*models.DeviceControlState, error) {
	return s.merge(ctx, deviceID, func(state *models.DeviceControlState) {
		state.Status = models.ControlStatus{CurrentMode: mode, Timestamp: s.now().UTC()}
	})
}

// State returns the control record, or ErrNotFound.
func (s *DeviceStore) State(ctx context.Context, deviceID string) (*models.DeviceControlState, error) {
	var state models.DeviceControlState
	err := s.store.View(ctx, func(tx Tx) error {
		raw, err := tx.Get(DeviceKey(deviceID))
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// WatchState subscribes to control record changes for one device. The
// match is on the exact key: device ids share the flat device/
// namespace, so "D1" must not observe "D10".
func (s *DeviceStore) WatchState(deviceID string, fn func(*models.DeviceControlState, error)) *Subscription {
	return s.store.WatchKey(DeviceKey(deviceID), func(c Change) {
		var state models.DeviceControlState
		if err := json.Unmarshal(c.Value, &state); err != nil {
			fn(nil, fmt.Errorf("decode device state at %s: %w", c.Key, err))
			return
		}
		fn(&state, nil)
	})
}

func (s *DeviceStore) merge(ctx context.Context, deviceID string, apply func(*models.DeviceControlState)) (*models.DeviceControlState, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id required")
	}

	var state models.DeviceControlState
	err := s.store.Update(ctx, func(tx Tx) error {
		return tx.UpsertMerge(DeviceKey(deviceID), func(old []byte) ([]byte, error) {
			state = models.DeviceControlState{DeviceID: deviceID}
			if old != nil {
				if err := json.Unmarshal(old, &state); err != nil {
					return nil, fmt.Errorf("decode device state %s: %w", deviceID, err)
				}
			}
			apply(&state)
			return json.Marshal(&state)
		})
	})
	if err != nil && errors.Is(err, ErrNotFound) {
		// UpsertMerge never reports ErrNotFound; keep the contract clear.
		return nil, fmt.Errorf("merge device state %s: %w", deviceID, err)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
