package invariant

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCheckPassesWhenConditionHolds(t *testing.T) {
	if v := Catch(func() { Check(true, SelfForwardedObject, 3, 0x10, "unused") }); v != nil {
		t.Fatalf("unexpected violation: %v", v)
	}
}

func TestCheckRaisesViolation(t *testing.T) {
	v := Catch(func() {
		Check(false, PinnedInCompactionQueue, 7, 0, "pinned %s", "region")
	})
	if v == nil {
		t.Fatalf("expected violation")
	}
	if v.Code != PinnedInCompactionQueue || v.Region != 7 {
		t.Fatalf("unexpected violation fields: %+v", v)
	}
	if !strings.Contains(v.Caller, "TestCheckRaisesViolation") {
		t.Fatalf("caller not recorded: %q", v.Caller)
	}
	if !strings.Contains(v.Error(), "region=7") || !strings.Contains(v.Error(), "pinned region") {
		t.Fatalf("unexpected message: %q", v.Error())
	}
}

func TestCatchPropagatesOtherPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r != "boom" {
			t.Fatalf("expected the foreign panic value, got %v", r)
		}
	}()
	Catch(func() { panic("boom") })
	t.Fatalf("panic was swallowed")
}

func TestGuardAndAsViolation(t *testing.T) {
	err := Guard(func() { Fail(MissingClassAfterCopy, NoRegion, 0x40, "no class") })
	if err == nil {
		t.Fatalf("expected error")
	}
	wrapped := fmt.Errorf("worker 2: %w", err)
	v, ok := AsViolation(wrapped)
	if !ok || v.Code != MissingClassAfterCopy || v.Addr != 0x40 {
		t.Fatalf("AsViolation = %+v, %v", v, ok)
	}
	if _, ok := AsViolation(errors.New("plain")); ok {
		t.Fatalf("plain error reported as violation")
	}
	if !strings.Contains(v.Error(), "addr=0x40") {
		t.Fatalf("address missing from %q", v.Error())
	}
}
