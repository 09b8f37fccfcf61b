package discovery

import (
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
)

type fakeRegistration struct {
	shutdowns int
}

func (f *fakeRegistration) Shutdown() { f.shutdowns++ }

type registerCall struct {
	instance, service, domain string
	port                      int
	text                      []string
}

func newTestAdvertiser(calls *[]registerCall, regs *[]*fakeRegistration, err error) *Advertiser {
	a := NewAdvertiser(config.MDNSConfig{}, "", logging.Discard())
	a.register = func(instance, service, domain string, port int, text []string, _ []net.Interface) (registration, error) {
		*calls = append(*calls, registerCall{instance, service, domain, port, text})
		if err != nil {
			return nil, err
		}
		r := &fakeRegistration{}
		*regs = append(*regs, r)
		return r, nil
	}
	return a
}

func TestAdvertise_RegistersAndReplaces(t *testing.T) {
	var calls []registerCall
	var regs []*fakeRegistration
	a := newTestAdvertiser(&calls, &regs, nil)

	svc := Service{Instance: "node.001", Port: 80, Text: map[string]string{"version": "1.0.0", "id": "node.001"}}
	if err := a.Advertise(svc); err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	want := registerCall{"node-001", DefaultServiceType, DefaultDomain, 80, []string{"id=node.001", "version=1.0.0"}}
	if !reflect.DeepEqual(calls[0], want) {
		t.Errorf("register call = %+v, want %+v", calls[0], want)
	}

	if err := a.Advertise(svc); err != nil {
		t.Fatalf("second Advertise() error = %v", err)
	}
	if regs[0].shutdowns != 1 {
		t.Errorf("previous registration shutdowns = %d, want 1", regs[0].shutdowns)
	}

	a.Shutdown()
	a.Shutdown()
	if regs[1].shutdowns != 1 {
		t.Errorf("current registration shutdowns = %d, want 1", regs[1].shutdowns)
	}
}

func TestAdvertise_Error(t *testing.T) {
	var calls []registerCall
	var regs []*fakeRegistration
	a := newTestAdvertiser(&calls, &regs, errors.New("no multicast"))

	if err := a.Advertise(Service{Instance: "n", Port: 80}); err == nil {
		t.Fatal("Advertise() error = nil, want failure")
	}
	a.Shutdown()
}

func TestInstanceName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"node-001", "node-001"},
		{" greenhouse.east ", "greenhouse-east"},
		{"", "graynode"},
		{strings.Repeat("a", 70), strings.Repeat("a", 63)},
	}
	for _, tt := range tests {
		if got := InstanceName(tt.in); got != tt.want {
			t.Errorf("InstanceName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTXTRecords_Empty(t *testing.T) {
	if got := TXTRecords(nil); got != nil {
		t.Errorf("TXTRecords(nil) = %v, want nil", got)
	}
}
