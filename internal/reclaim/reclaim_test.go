package reclaim

import (
	"errors"
	"os"
	"testing"
)

type fakeAdapter struct {
	listeners []int
	findErr   error
	killErr   map[int]error
	killed    []int
}

func (f *fakeAdapter) FindListeners(int) ([]int, error) { return f.listeners, f.findErr }

func (f *fakeAdapter) Kill(pid int) error {
	if err := f.killErr[pid]; err != nil {
		return err
	}
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeAdapter) Terminate(int) error             { return nil }
func (f *fakeAdapter) IsAlive(int) bool                { return false }
func (f *fakeAdapter) RegisterAutostart(string) error  { return nil }
func (f *fakeAdapter) UnregisterAutostart() error      { return nil }
func (f *fakeAdapter) AutostartEnabled() (bool, error) { return false, nil }

func TestReclaimFreePortIsSuccess(t *testing.T) {
	fa := &fakeAdapter{}
	if err := New(fa, nil).Reclaim(8317); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if len(fa.killed) != 0 {
		t.Fatalf("killed %v on a free port", fa.killed)
	}
}

func TestReclaimKillsAllOwners(t *testing.T) {
	fa := &fakeAdapter{listeners: []int{100, 200}}
	if err := New(fa, nil).Reclaim(8317); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if len(fa.killed) != 2 {
		t.Fatalf("killed = %v, want [100 200]", fa.killed)
	}
}

func TestReclaimSkipsSelf(t *testing.T) {
	self := os.Getpid()
	fa := &fakeAdapter{listeners: []int{self, 300}}
	if err := New(fa, nil).Reclaim(8317); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	for _, pid := range fa.killed {
		if pid == self {
			t.Fatalf("own pid was killed")
		}
	}
	if len(fa.killed) != 1 || fa.killed[0] != 300 {
		t.Fatalf("killed = %v, want [300]", fa.killed)
	}
}

func TestReclaimReportsFirstKillError(t *testing.T) {
	boom := errors.New("boom")
	fa := &fakeAdapter{listeners: []int{100, 200}, killErr: map[int]error{100: boom}}
	err := New(fa, nil).Reclaim(8317)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	// The failing pid must not stop the sweep.
	if len(fa.killed) != 1 || fa.killed[0] != 200 {
		t.Fatalf("killed = %v, want [200]", fa.killed)
	}
}

func TestReclaimLookupFailure(t *testing.T) {
	fa := &fakeAdapter{findErr: errors.New("no permission")}
	if err := New(fa, nil).Reclaim(8317); err == nil {
		t.Fatalf("expected lookup error")
	}
}
