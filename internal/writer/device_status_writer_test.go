// internal/writer/device_status_writer_test.go
package writer

import (
	"errors"
	"testing"

	"github.com/tamzrod/bms-telemetry/internal/status"
)

func statusOK() status.Snapshot {
	return status.Snapshot{Health: status.HealthOK, Frames: 10}
}

func statusRig(t *testing.T, slot uint16) (StatusWriter, *fakeEndpointClient, StatusPlan) {
	t.Helper()

	cli := &fakeEndpointClient{}
	sp := StatusPlan{
		Client:     "modbus|status-endpoint",
		UnitID:     1,
		BaseSlot:   slot,
		DeviceName: "DEV-01",
	}

	sw, enabled := NewDeviceStatusWriter(Plan{Status: []StatusPlan{sp}}, map[string]endpointClient{
		sp.Client: cli,
	})
	if !enabled {
		t.Fatalf("status writer should be enabled")
	}
	return sw, cli, sp
}

func TestStatusWriterDisabledWithoutPlan(t *testing.T) {
	if _, enabled := NewDeviceStatusWriter(Plan{}, nil); enabled {
		t.Fatalf("status writer should be disabled")
	}
}

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	sw, cli, sp := statusRig(t, 0)

	// ---- first write: FULL ASSERT ----
	if err := sw.WriteStatus(statusOK()); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	if len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf(
			"expected full block write (%d regs), got %d",
			status.SlotsPerDevice,
			len(cli.lastRegs),
		)
	}

	// Verify device name encoding EXACTLY
	expectedNameRegs := encodeDeviceNameRegs(sp.DeviceName)
	for i := 0; i < status.SlotDeviceNameSlots; i++ {
		slot := status.SlotDeviceNameStart + i
		if cli.lastRegs[slot] != expectedNameRegs[i] {
			t.Fatalf(
				"device name slot %d mismatch: got=%d want=%d",
				slot,
				cli.lastRegs[slot],
				expectedNameRegs[i],
			)
		}
	}
	if expectedNameRegs[0] != uint16('D')<<8|uint16('E') {
		t.Fatalf("device name must be big-endian ASCII pairs")
	}

	// ---- second write: INCREMENTAL ONLY ----
	second := status.Snapshot{
		Health:         status.HealthError,
		LastErrorCode:  0x12,
		SecondsInError: 1,
		Frames:         10,
	}
	if err := sw.WriteStatus(second); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}

	if len(cli.lastRegs) == status.SlotsPerDevice {
		t.Fatalf("device name should not be rewritten on incremental update")
	}
	// health, last error, seconds
	if len(cli.writes) != 1+3 {
		t.Fatalf("expected 3 incremental writes, got %d", len(cli.writes)-1)
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	sw, cli, sp := statusRig(t, 3)

	errSnap := status.Snapshot{
		Health:         status.HealthError,
		LastErrorCode:  42,
		SecondsInError: 3,
	}
	if err := sw.WriteStatus(errSnap); err != nil {
		t.Fatalf("error snapshot write failed: %v", err)
	}

	resetSnap := status.Snapshot{
		Health:         status.HealthError,
		LastErrorCode:  42,
		SecondsInError: 0,
	}
	if err := sw.WriteStatus(resetSnap); err != nil {
		t.Fatalf("reset snapshot write failed: %v", err)
	}

	expectedAddr := sp.BaseSlot*status.SlotsPerDevice + status.SlotSecondsInError
	if cli.lastRegsAddr != expectedAddr {
		t.Fatalf("unexpected write addr: got=%d want=%d", cli.lastRegsAddr, expectedAddr)
	}
	if len(cli.lastRegs) != 1 || cli.lastRegs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: got=%v", cli.lastRegs)
	}
}

func TestFrameCounterWrittenAsPair(t *testing.T) {
	sw, cli, sp := statusRig(t, 1)

	if err := sw.WriteStatus(statusOK()); err != nil {
		t.Fatalf("full assert failed: %v", err)
	}

	next := statusOK()
	next.Frames = 0x0001_0002
	if err := sw.WriteStatus(next); err != nil {
		t.Fatalf("frames write failed: %v", err)
	}

	want := sp.BaseSlot*status.SlotsPerDevice + status.SlotFramesHi
	if cli.lastRegsAddr != want {
		t.Fatalf("frames addr: got=%d want=%d", cli.lastRegsAddr, want)
	}
	if !regsEqual(cli.lastRegs, []uint16{1, 2}) {
		t.Fatalf("frames regs: got=%v want=[1 2]", cli.lastRegs)
	}
}

func TestUnchangedSnapshotWritesNothing(t *testing.T) {
	sw, cli, _ := statusRig(t, 0)

	_ = sw.WriteStatus(statusOK())
	n := len(cli.writes)

	if err := sw.WriteStatus(statusOK()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.writes) != n {
		t.Fatalf("expected no writes, got %d", len(cli.writes)-n)
	}
}

func TestFailureForcesFullReassert(t *testing.T) {
	sw, cli, _ := statusRig(t, 0)

	_ = sw.WriteStatus(statusOK())

	cli.fail = errors.New("broken pipe")
	bad := statusOK()
	bad.Health = status.HealthStale
	if err := sw.WriteStatus(bad); err == nil {
		t.Fatalf("expected error")
	}

	cli.fail = nil
	if err := sw.WriteStatus(bad); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cli.lastRegs) != status.SlotsPerDevice {
		t.Fatalf("expected full re-assert, got %d regs", len(cli.lastRegs))
	}
}

func TestEncodeDeviceNameSanitizesAndTruncates(t *testing.T) {
	regs := encodeDeviceNameRegs("AB\x01CDEFGHIJKLMNOPQRSTU")
	if len(regs) != status.SlotDeviceNameSlots {
		t.Fatalf("expected %d regs, got %d", status.SlotDeviceNameSlots, len(regs))
	}
	if regs[0] != uint16('A')<<8|uint16('B') {
		t.Fatalf("reg0: got=%04x", regs[0])
	}
	if regs[1] != uint16('?')<<8|uint16('C') {
		t.Fatalf("reg1: got=%04x", regs[1])
	}
	// 16 chars kept: "AB?CDEFGHIJKLMNO"
	if regs[7] != uint16('N')<<8|uint16('O') {
		t.Fatalf("reg7: got=%04x", regs[7])
	}
}
