package link

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-node/internal/process"
)

type fakeRunner struct {
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := filepath.Base(name) + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, err := range f.errs {
		if strings.HasPrefix(call, prefix) {
			return nil, err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(call, prefix) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

type fakeDaemon struct {
	name     string
	started  bool
	stopped  bool
	readyErr error
}

func (f *fakeDaemon) Start(context.Context) error {
	f.started = true
	return nil
}

func (f *fakeDaemon) WaitReady(context.Context) error { return f.readyErr }

func (f *fakeDaemon) Stop() error {
	f.stopped = true
	return nil
}

func newTestNMDriver(t *testing.T, r *fakeRunner) (*NMDriver, map[string]*fakeDaemon) {
	t.Helper()
	d := NewNMDriver(config.LinkConfig{
		Interface:     "wlan0",
		NmcliBinary:   "/usr/bin/nmcli",
		IPBinary:      "/usr/sbin/ip",
		HostapdBinary: "/usr/sbin/hostapd",
		DnsmasqBinary: "/usr/sbin/dnsmasq",
		RuntimeDir:    t.TempDir(),
	}, logging.Discard())
	d.run = r.run

	daemons := make(map[string]*fakeDaemon)
	d.newDaemon = func(pc process.Config) daemon {
		fd := &fakeDaemon{name: pc.Name}
		daemons[pc.Name] = fd
		return fd
	}
	return d, daemons
}

// ===== Parsing =====

func TestParseDeviceShow(t *testing.T) {
	tests := []struct {
		name      string
		out       string
		connected bool
		ssid      string
		addr      string
	}{
		{
			name:      "connected",
			out:       "GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:TestNet\nIP4.ADDRESS[1]:192.168.1.23/24\nIP4.ADDRESS[2]:10.1.1.1/8\n",
			connected: true,
			ssid:      "TestNet",
			addr:      "192.168.1.23",
		},
		{
			name: "activating",
			out:  "GENERAL.STATE:70 (connecting (getting IP configuration))\nGENERAL.CONNECTION:TestNet\n",
			ssid: "TestNet",
		},
		{
			name: "disconnected",
			out:  "GENERAL.STATE:30 (disconnected)\nGENERAL.CONNECTION:\n",
		},
		{
			name:      "escaped connection name",
			out:       "GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:Lab\\:2\nIP4.ADDRESS[1]:10.0.0.9/24\n",
			connected: true,
			ssid:      "Lab:2",
			addr:      "10.0.0.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := parseDeviceShow([]byte(tt.out))
			if st.Connected != tt.connected {
				t.Errorf("Connected = %v, want %v", st.Connected, tt.connected)
			}
			if st.Info.SSID != tt.ssid {
				t.Errorf("SSID = %q, want %q", st.Info.SSID, tt.ssid)
			}
			if tt.addr != "" && st.Info.Address.String() != tt.addr {
				t.Errorf("Address = %v, want %s", st.Info.Address, tt.addr)
			}
		})
	}
}

func TestParseWifiList(t *testing.T) {
	out := "*:TestNet:90:WPA2\n :Cafe:40:\n :Lab\\:2:100:WPA1 WPA2\n : :--:--\n"

	got := parseWifiList([]byte(out))
	if len(got) != 3 {
		t.Fatalf("parseWifiList() returned %d entries, want 3: %+v", len(got), got)
	}

	tests := []struct {
		ssid   string
		rssi   int
		secure bool
		inUse  bool
	}{
		{"TestNet", -55, true, true},
		{"Cafe", -80, false, false},
		{"Lab:2", -50, true, false},
	}
	for i, tt := range tests {
		e := got[i]
		if e.SSID != tt.ssid || e.RSSI != tt.rssi || e.Secure != tt.secure || e.inUse != tt.inUse {
			t.Errorf("entry %d = %+v (inUse=%v), want %s/%d/%v/%v", i, e.ScannedNetwork, e.inUse, tt.ssid, tt.rssi, tt.secure, tt.inUse)
		}
	}
}

func TestPercentToDBm(t *testing.T) {
	tests := []struct {
		pct  int
		want int
	}{
		{100, -50},
		{0, -100},
		{70, -65},
		{150, -50},
		{-5, -100},
	}
	for _, tt := range tests {
		if got := percentToDBm(tt.pct); got != tt.want {
			t.Errorf("percentToDBm(%d) = %d, want %d", tt.pct, got, tt.want)
		}
	}
}

// ===== Driver =====

func TestNMDriver_Status(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"nmcli -t -f GENERAL.STATE": "GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:TestNet\nIP4.ADDRESS[1]:192.168.1.23/24\n",
		"nmcli -t -f IN-USE":        " :Other:99:WPA2\n*:TestNet:80:WPA2\n",
	}}
	d, _ := newTestNMDriver(t, r)

	st, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Connected {
		t.Fatal("Status() Connected = false, want true")
	}
	want := Info{SSID: "TestNet", Address: netip.MustParseAddr("192.168.1.23"), RSSI: -60}
	if st.Info != want {
		t.Errorf("Status() Info = %+v, want %+v", st.Info, want)
	}
}

func TestNMDriver_AssociateCommand(t *testing.T) {
	r := &fakeRunner{}
	d, _ := newTestNMDriver(t, r)

	if err := d.Associate(context.Background(), "TestNet", "password123"); err != nil {
		t.Fatalf("Associate() error = %v", err)
	}
	want := "nmcli device wifi connect TestNet ifname wlan0 password password123"
	if len(r.calls) != 1 || r.calls[0] != want {
		t.Errorf("calls = %q, want [%q]", r.calls, want)
	}

	if err := d.Reassociate(context.Background()); err != nil {
		t.Fatalf("Reassociate() error = %v", err)
	}
	if got := r.calls[len(r.calls)-1]; got != "nmcli connection up id TestNet ifname wlan0" {
		t.Errorf("Reassociate() ran %q", got)
	}
}

func TestNMDriver_AssociateError(t *testing.T) {
	boom := errors.New("nmcli: exit status 1")
	r := &fakeRunner{errs: map[string]error{"nmcli device wifi connect": boom}}
	d, _ := newTestNMDriver(t, r)

	err := d.Associate(context.Background(), "TestNet", "x")
	if !errors.Is(err, boom) {
		t.Errorf("Associate() error = %v, want %v", err, boom)
	}
}

func TestNMDriver_AccessPoint(t *testing.T) {
	r := &fakeRunner{}
	d, daemons := newTestNMDriver(t, r)

	ap := APConfig{
		SSID:       "graynode-setup",
		Password:   "graylogic",
		Channel:    6,
		MaxClients: 4,
		Address:    netip.MustParseAddr("192.168.4.1"),
	}
	if err := d.StartAccessPoint(context.Background(), ap); err != nil {
		t.Fatalf("StartAccessPoint() error = %v", err)
	}

	wantCalls := []string{
		"nmcli device set wlan0 managed no",
		"ip addr flush dev wlan0",
		"ip addr add 192.168.4.1/24 dev wlan0",
		"ip link set wlan0 up",
	}
	for i, want := range wantCalls {
		if i >= len(r.calls) || r.calls[i] != want {
			t.Errorf("call %d = %q, want %q", i, r.calls, want)
		}
	}

	for _, name := range []string{"hostapd", "dnsmasq"} {
		if fd := daemons[name]; fd == nil || !fd.started {
			t.Errorf("%s not started", name)
		}
	}

	conf, err := os.ReadFile(filepath.Join(d.runtimeDir, "hostapd.conf"))
	if err != nil {
		t.Fatalf("reading hostapd.conf: %v", err)
	}
	for _, line := range []string{"interface=wlan0", "ssid=graynode-setup", "channel=6", "wpa_passphrase=graylogic", "max_num_sta=4"} {
		if !strings.Contains(string(conf), line+"\n") {
			t.Errorf("hostapd.conf missing %q", line)
		}
	}

	if err := d.StopAccessPoint(context.Background()); err != nil {
		t.Fatalf("StopAccessPoint() error = %v", err)
	}
	for _, name := range []string{"hostapd", "dnsmasq"} {
		if !daemons[name].stopped {
			t.Errorf("%s not stopped", name)
		}
	}
	if got := r.calls[len(r.calls)-1]; got != "nmcli device set wlan0 managed yes" {
		t.Errorf("last call = %q, want interface handed back to NetworkManager", got)
	}
}

func TestNMDriver_AccessPointDaemonNotReady(t *testing.T) {
	r := &fakeRunner{}
	d, daemons := newTestNMDriver(t, r)
	notReady := errors.New("not ready")
	d.newDaemon = func(pc process.Config) daemon {
		fd := &fakeDaemon{name: pc.Name}
		if pc.Name == "dnsmasq" {
			fd.readyErr = notReady
		}
		daemons[pc.Name] = fd
		return fd
	}

	err := d.StartAccessPoint(context.Background(), APConfig{
		SSID:    "graynode-setup",
		Channel: 1,
		Address: netip.MustParseAddr("192.168.4.1"),
	})
	if !errors.Is(err, notReady) {
		t.Fatalf("StartAccessPoint() error = %v, want %v", err, notReady)
	}
	if !daemons["hostapd"].stopped || !daemons["dnsmasq"].stopped {
		t.Error("daemons should be stopped after a failed start")
	}
}

func testAP() APConfig {
	return APConfig{
		SSID:       "graynode-setup",
		Password:   "graylogic",
		Channel:    6,
		MaxClients: 4,
		Address:    netip.MustParseAddr("192.168.4.1"),
	}
}

// indexOf returns the position of the first call equal to want at or
// after from, or -1.
func indexOf(calls []string, want string, from int) int {
	for i := from; i < len(calls); i++ {
		if calls[i] == want {
			return i
		}
	}
	return -1
}

func TestNMDriver_JoinBesideAccessPoint(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"nmcli -t -f GENERAL.STATE": "GENERAL.STATE:100 (connected)\nGENERAL.CONNECTION:TestNet\nIP4.ADDRESS[1]:192.168.1.23/24\n",
	}}
	d, daemons := newTestNMDriver(t, r)
	d.iw = "/usr/sbin/iw"

	if err := d.StartAccessPoint(context.Background(), testAP()); err != nil {
		t.Fatalf("StartAccessPoint() error = %v", err)
	}
	if err := d.Associate(context.Background(), "TestNet", "password123"); err != nil {
		t.Fatalf("Associate() error = %v", err)
	}
	st, err := d.Status(context.Background())
	if err != nil || !st.Connected {
		t.Fatalf("Status() = %+v, %v, want connected", st, err)
	}

	// The station interface is created and managed before the join, and
	// every station command targets it.
	pos := 0
	for _, want := range []string{
		"nmcli device set wlan0 managed no",
		"ip addr add 192.168.4.1/24 dev wlan0",
		"iw dev wlan0 interface add wlan0sta type managed",
		"nmcli device set wlan0sta managed yes",
		"nmcli device wifi connect TestNet ifname wlan0sta password password123",
		"nmcli -t -f GENERAL.STATE,GENERAL.CONNECTION,IP4.ADDRESS device show wlan0sta",
	} {
		i := indexOf(r.calls, want, pos)
		if i < 0 {
			t.Fatalf("missing %q after call %d in %q", want, pos, r.calls)
		}
		pos = i + 1
	}
	if indexOf(r.calls, "nmcli device set wlan0 managed yes", 0) >= 0 {
		t.Error("AP interface was handed back to NetworkManager during the join")
	}
	for _, name := range []string{"hostapd", "dnsmasq"} {
		if daemons[name].stopped {
			t.Errorf("%s stopped by the join, want the access point kept up", name)
		}
	}

	if err := d.StopAccessPoint(context.Background()); err != nil {
		t.Fatalf("StopAccessPoint() error = %v", err)
	}
	del := indexOf(r.calls, "iw dev wlan0sta del", pos)
	handBack := indexOf(r.calls, "nmcli device set wlan0 managed yes", pos)
	if del < 0 || handBack < del {
		t.Errorf("StopAccessPoint() calls = %q, want station removed then wlan0 managed", r.calls[pos:])
	}
	if got := d.station(); got != "wlan0" {
		t.Errorf("station() after StopAccessPoint = %q, want wlan0", got)
	}
}

func TestNMDriver_JoinPausesSingleRoleRadio(t *testing.T) {
	boom := errors.New("nmcli: exit status 1")
	r := &fakeRunner{errs: map[string]error{
		"iw dev wlan0 interface add": errors.New("iw: operation not supported"),
		"nmcli device wifi connect":  boom,
	}}
	d, daemons := newTestNMDriver(t, r)
	d.iw = "/usr/sbin/iw"

	if err := d.StartAccessPoint(context.Background(), testAP()); err != nil {
		t.Fatalf("StartAccessPoint() error = %v", err)
	}
	firstHostapd := daemons["hostapd"]

	err := d.Associate(context.Background(), "TestNet", "password123")
	if !errors.Is(err, boom) {
		t.Fatalf("Associate() error = %v, want %v", err, boom)
	}

	handBack := indexOf(r.calls, "nmcli device set wlan0 managed yes", 0)
	connect := indexOf(r.calls, "nmcli device wifi connect TestNet ifname wlan0 password password123", 0)
	reclaim := indexOf(r.calls, "nmcli device set wlan0 managed no", connect+1)
	if handBack < 0 || connect < handBack || reclaim < connect {
		t.Errorf("calls = %q, want hand back, join, then reclaim", r.calls)
	}
	if !firstHostapd.stopped {
		t.Error("hostapd should stop while the radio joins")
	}
	if fd := daemons["hostapd"]; fd == firstHostapd || !fd.started {
		t.Error("hostapd not restarted after the failed join")
	}
	if d.apPaused {
		t.Error("access point still paused after the failed join")
	}
}

func TestStationName(t *testing.T) {
	tests := []struct {
		iface string
		want  string
	}{
		{"wlan0", "wlan0sta"},
		{"wlx00c0ca123456", "wlx00c0ca123sta"},
	}
	for _, tt := range tests {
		if got := stationName(tt.iface); got != tt.want {
			t.Errorf("stationName(%q) = %q, want %q", tt.iface, got, tt.want)
		}
	}
}

func TestHostapdConfig_Open(t *testing.T) {
	conf := hostapdConfig("wlan0", APConfig{SSID: "open-setup", Channel: 1, MaxClients: 2})
	if strings.Contains(conf, "wpa=") {
		t.Errorf("open AP config should not enable WPA:\n%s", conf)
	}
}

func TestDnsmasqArgs(t *testing.T) {
	args := strings.Join(dnsmasqArgs("wlan0", APConfig{MaxClients: 4, Address: netip.MustParseAddr("192.168.4.1")}), " ")
	for _, want := range []string{
		"--port=0",
		"--interface=wlan0",
		"--dhcp-range=192.168.4.10,192.168.4.26,255.255.255.0,1h",
		"--dhcp-option=6,192.168.4.1",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("dnsmasq args missing %q: %s", want, args)
		}
	}
}
