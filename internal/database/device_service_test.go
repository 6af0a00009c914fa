package database

import (
	"errors"
	"testing"
	"time"
)

func TestRegisterAndVerifyCredentials(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	if device.Status != StatusPending {
		t.Errorf("new device status = %s, want %s", device.Status, StatusPending)
	}
	if device.SecretHash == "super-secret-device-key" {
		t.Error("device secret stored in plaintext")
	}

	if _, err := ds.VerifyCredentials("AA:BB:CC:DD:EE:01", "super-secret-device-key"); err != nil {
		t.Errorf("valid credentials rejected: %v", err)
	}
	if _, err := ds.VerifyCredentials("AA:BB:CC:DD:EE:01", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("wrong secret: got %v, want ErrBadCredentials", err)
	}
}

func TestVerifyCredentialsRejectsDecommissioned(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	if _, err := ds.SetStatus(device.ID, StatusDecommissioned); err != nil {
		t.Fatalf("decommissioning: %v", err)
	}
	if _, err := ds.VerifyCredentials("AA:BB:CC:DD:EE:01", "super-secret-device-key"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("decommissioned device authenticated: %v", err)
	}
}

func TestHeartbeatActivatesAndTracksLatestTime(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	t1 := time.Now().Add(-2 * time.Minute).Truncate(time.Second)
	t2 := t1.Add(time.Minute)

	updated, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{Time: t1})
	if err != nil {
		t.Fatalf("first heartbeat: %v", err)
	}
	if updated.Status != StatusActive {
		t.Errorf("status after first heartbeat = %s, want %s", updated.Status, StatusActive)
	}

	updated, err = ds.RecordHeartbeat(device.ID, HeartbeatInput{Time: t2})
	if err != nil {
		t.Fatalf("second heartbeat: %v", err)
	}
	if updated.LastHeartbeat == nil || !updated.LastHeartbeat.Equal(t2) {
		t.Errorf("last_heartbeat = %v, want %v", updated.LastHeartbeat, t2)
	}
}

func TestHeartbeatMonotonicity(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	newer := time.Now().Truncate(time.Second)
	older := newer.Add(-time.Hour)

	if _, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{Time: newer}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// Make the counter non-zero so the out-of-order heartbeat has
	// something to reset
	if _, err := ds.RecordLivenessFailure(device.ID); err != nil {
		t.Fatalf("liveness failure: %v", err)
	}

	updated, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{Time: older})
	if err != nil {
		t.Fatalf("out-of-order heartbeat: %v", err)
	}
	if !updated.LastHeartbeat.Equal(newer) {
		t.Errorf("last_heartbeat regressed to %v, want %v", updated.LastHeartbeat, newer)
	}
	if updated.ConsecutiveFailures != 0 {
		t.Errorf("consecutive_failures = %d after heartbeat, want 0", updated.ConsecutiveFailures)
	}
}

func TestOfflineRequiresThresholdConsecutiveFailures(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	if _, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{}); err != nil {
		t.Fatalf("activating heartbeat: %v", err)
	}

	threshold := ds.FailureThreshold()
	for i := 0; i < threshold-1; i++ {
		updated, err := ds.RecordLivenessFailure(device.ID)
		if err != nil {
			t.Fatalf("liveness failure %d: %v", i+1, err)
		}
		if updated.Status == StatusOffline {
			t.Fatalf("device offline after %d failures, threshold is %d", i+1, threshold)
		}
	}

	updated, err := ds.RecordLivenessFailure(device.ID)
	if err != nil {
		t.Fatalf("final liveness failure: %v", err)
	}
	if updated.Status != StatusOffline {
		t.Errorf("device status = %s after %d failures, want %s", updated.Status, threshold, StatusOffline)
	}

	// A heartbeat interleaved between failures restarts the count
	if _, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{}); err != nil {
		t.Fatalf("recovery heartbeat: %v", err)
	}
	updated, err = ds.RecordLivenessFailure(device.ID)
	if err != nil {
		t.Fatalf("post-recovery failure: %v", err)
	}
	if updated.Status != StatusActive {
		t.Errorf("one failure after recovery flipped device to %s", updated.Status)
	}
}

func TestHeartbeatReactivatesOfflineDevice(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	if _, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < ds.FailureThreshold(); i++ {
		if _, err := ds.RecordLivenessFailure(device.ID); err != nil {
			t.Fatal(err)
		}
	}

	updated, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{})
	if err != nil {
		t.Fatalf("recovery heartbeat: %v", err)
	}
	if updated.Status != StatusActive {
		t.Errorf("status after recovery = %s, want %s", updated.Status, StatusActive)
	}
}

func TestOperatorTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"active to maintenance", StatusActive, StatusMaintenance, true},
		{"active to decommissioned", StatusActive, StatusDecommissioned, true},
		{"offline to maintenance", StatusOffline, StatusMaintenance, true},
		{"maintenance to active", StatusMaintenance, StatusActive, true},
		{"pending to decommissioned", StatusPending, StatusDecommissioned, true},
		{"pending to maintenance", StatusPending, StatusMaintenance, false},
		{"pending to active", StatusPending, StatusActive, false},
		{"decommissioned to active", StatusDecommissioned, StatusActive, false},
		{"decommissioned to maintenance", StatusDecommissioned, StatusMaintenance, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			ds := NewDeviceService(db)
			device := registerTestDevice(t, ds)

			if err := db.Model(device).Update("status", tt.from).Error; err != nil {
				t.Fatal(err)
			}

			_, err := ds.SetStatus(device.ID, tt.to)
			if tt.allowed && err != nil {
				t.Errorf("%s -> %s rejected: %v", tt.from, tt.to, err)
			}
			if !tt.allowed && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: got %v, want ErrInvalidTransition", tt.from, tt.to, err)
			}
		})
	}
}

func TestRetireDeviceOnlyWhenDecommissioned(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	if err := ds.RetireDevice(device.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retiring pending device: got %v, want ErrInvalidTransition", err)
	}

	if _, err := ds.SetStatus(device.ID, StatusDecommissioned); err != nil {
		t.Fatal(err)
	}
	if err := ds.RetireDevice(device.ID); err != nil {
		t.Errorf("retiring decommissioned device: %v", err)
	}
	if _, err := ds.GetDeviceByID(device.ID); err == nil {
		t.Error("retired device still visible")
	}
}

func TestListStaleDevices(t *testing.T) {
	db := newTestDB(t)
	ds := NewDeviceService(db)

	fresh := registerTestDevice(t, ds)
	stale, err := ds.RegisterDevice("AA:BB:CC:DD:EE:02", "another-device-secret", "atrium", "hypervsn_solo", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ds.RecordHeartbeat(fresh.ID, HeartbeatInput{Time: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.RecordHeartbeat(stale.ID, HeartbeatInput{Time: time.Now().Add(-10 * time.Minute)}); err != nil {
		t.Fatal(err)
	}

	got, err := ds.ListStaleDevices(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("ListStaleDevices returned %d devices, want just the stale one", len(got))
	}
}

func TestCommandQueueDelivery(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)

	if _, err := ds.EnqueueCommand(device.ID, "clear_cache", nil); err != nil {
		t.Fatal(err)
	}

	cmds, err := ds.PendingCommands(device.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 1 || cmds[0].Command != "clear_cache" {
		t.Fatalf("PendingCommands = %v, want one clear_cache", cmds)
	}

	// Delivery is one-shot
	cmds, err = ds.PendingCommands(device.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 0 {
		t.Errorf("commands delivered twice: %v", cmds)
	}
}

func TestGetDeviceStats(t *testing.T) {
	ds := NewDeviceService(newTestDB(t))
	device := registerTestDevice(t, ds)
	if _, err := ds.RecordHeartbeat(device.ID, HeartbeatInput{}); err != nil {
		t.Fatal(err)
	}

	stats, err := ds.GetDeviceStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats[StatusActive] != 1 {
		t.Errorf("active count = %d, want 1", stats[StatusActive])
	}
	if stats[StatusPending] != 0 {
		t.Errorf("pending count = %d, want 0", stats[StatusPending])
	}
}
