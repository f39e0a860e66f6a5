package eventbus

import (
	"errors"
	"testing"
)

func TestDefaultBusLazyInit(t *testing.T) {
	resetDefault()
	t.Cleanup(resetDefault)

	first := Default()
	if first == nil {
		t.Fatal("Default returned nil")
	}
	if second := Default(); second != first {
		t.Error("Default is not a singleton")
	}
}

func TestInstallDefault(t *testing.T) {
	resetDefault()
	t.Cleanup(resetDefault)

	custom := TestBus()
	if err := InstallDefault(custom); err != nil {
		t.Fatalf("install: %v", err)
	}
	if Default() != custom {
		t.Error("installed bus not returned by Default")
	}
	if err := InstallDefault(TestBus()); !errors.Is(err, ErrDefaultInstalled) {
		t.Errorf("second install = %v, want ErrDefaultInstalled", err)
	}
}

func TestInstallDefaultAfterLazyInit(t *testing.T) {
	resetDefault()
	t.Cleanup(resetDefault)

	_ = Default()
	if err := InstallDefault(TestBus()); !errors.Is(err, ErrDefaultInstalled) {
		t.Errorf("install after lazy init = %v, want ErrDefaultInstalled", err)
	}
}

func TestInstallDefaultNil(t *testing.T) {
	resetDefault()
	t.Cleanup(resetDefault)

	if err := InstallDefault(nil); !errors.Is(err, ErrNilBus) {
		t.Errorf("install(nil) = %v, want ErrNilBus", err)
	}
}

func TestClearCaches(t *testing.T) {
	bus := TestBus()
	var calls []string
	if err := bus.Register(&defaultPrioritySub{calls: &calls}); err != nil {
		t.Fatalf("register: %v", err)
	}
	bus.ClearCaches()

	// Registration after a cache clear re-discovers from scratch.
	other := &defaultPrioritySub{calls: &calls}
	if err := bus.Register(other); err != nil {
		t.Fatalf("register after clear: %v", err)
	}
}
