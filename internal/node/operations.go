package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-node/internal/command"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/settings"
	"github.com/nerrad567/gray-logic-node/internal/telemetry"
)

// Execute runs cmd on the loop goroutine.
func (n *Node) Execute(ctx context.Context, cmd command.Command) Result {
	var res Result
	if err := n.submit(ctx, func(ctx context.Context) { res = n.execute(ctx, cmd) }); err != nil {
		return Result{Message: "error: " + err.Error()}
	}
	return res
}

// ExecuteLine parses line and runs it. Parse failures are reported in
// the Result and never reach the device record.
func (n *Node) ExecuteLine(ctx context.Context, line string) Result {
	cmd, err := command.Parse(line)
	if err != nil {
		return Result{Message: "error: " + err.Error()}
	}
	return n.Execute(ctx, cmd)
}

// executeRemote runs a line from the broker command topic on the loop
// goroutine. Only read-only commands are accepted there.
func (n *Node) executeRemote(ctx context.Context, line string) Result {
	cmd, err := command.Parse(line)
	if err != nil {
		return Result{Message: "error: " + err.Error()}
	}
	if !command.ReadOnly(cmd) {
		n.logger.Warn("remote command refused", "verb", cmd.Verb())
		return Result{Message: "error: " + cmd.Verb() + " is only accepted on the local console"}
	}
	return n.execute(ctx, cmd)
}

func (n *Node) execute(ctx context.Context, cmd command.Command) Result {
	n.logger.Debug("executing command", "verb", cmd.Verb())

	switch c := cmd.(type) {
	case command.Status:
		return Result{OK: true, Message: n.statusReport()}
	case command.GetConfig:
		return n.configReport()
	case command.Restart:
		n.requestRestart("restart command")
		return Result{OK: true, Message: "restarting...", Restart: true}
	case command.FactoryReset:
		if err := n.factoryReset(ctx); err != nil {
			return Result{Message: "error: " + err.Error()}
		}
		return Result{OK: true, Message: "settings cleared, restarting...", Restart: true}
	case command.Scan:
		return n.scanReport(ctx)
	case command.Help:
		return Result{OK: true, Message: strings.Join(command.HelpText, "\n")}
	case command.Unknown:
		return Result{Message: "unknown command, type HELP"}
	case command.Mutation:
		return n.mutate(ctx, c)
	default:
		return Result{Message: "unsupported command " + cmd.Verb()}
	}
}

// mutate applies m to a copy of the record, persists it and only then
// makes it current. A rejected value or failed write changes nothing.
func (n *Node) mutate(ctx context.Context, m command.Mutation) Result {
	next := n.device
	if err := m.Apply(&next); err != nil {
		return Result{Message: "error: " + err.Error()}
	}
	if err := n.opts.Store.Save(ctx, next); err != nil {
		return Result{Message: "error: " + err.Error()}
	}

	prev := n.device
	n.device = next
	note := n.applyLive(prev, next)
	return Result{OK: true, Message: m.Describe(next) + note}
}

// applyLive pushes a saved record into the running components. Identity
// and link credentials only take effect after a restart.
func (n *Node) applyLive(prev, next settings.DeviceConfig) string {
	n.telemetry.Configure(next)
	n.root.SetVerbosity(next.DebugLevel)

	if n.mode == ModeRunning {
		if prev.BrokerHost != next.BrokerHost || prev.BrokerPort != next.BrokerPort {
			n.session.Configure(next.BrokerHost, next.BrokerPort)
		}
		if prev.NTPServer != next.NTPServer {
			n.startTimeSync()
		}
	}
	if prev.LEDEnabled != next.LEDEnabled {
		n.pattern = -1
	}
	n.updatePattern()

	if prev.DeviceID != next.DeviceID || prev.SSID != next.SSID || prev.Passphrase != next.Passphrase {
		return " (applies after restart)"
	}
	return ""
}

func (n *Node) factoryReset(ctx context.Context) error {
	if err := n.opts.Store.Clear(ctx); err != nil {
		return err
	}
	n.requestRestart("factory reset")
	return nil
}

func (n *Node) scanReport(ctx context.Context) Result {
	networks, err := n.link.Scan(ctx)
	if err != nil {
		return Result{Message: "error: " + err.Error()}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== NETWORKS (%d) ===\n", len(networks))
	for i, nw := range networks {
		lock := ""
		if nw.Secure {
			lock = " [secure]"
		}
		fmt.Fprintf(&b, "%d. %s (%d dBm)%s\n", i+1, nw.SSID, nw.RSSI, lock)
	}
	b.WriteString("=========================")
	return Result{OK: true, Message: b.String()}
}

// statusDoc is the JSON_STATUS document printed by STATUS.
type statusDoc struct {
	Type     string       `json:"serial_type"`
	DeviceID string       `json:"deviceId"`
	Address  string       `json:"ip"`
	Version  string       `json:"version"`
	RSSI     int          `json:"rssi"`
	Uptime   string       `json:"uptime"`
	Config   statusConfig `json:"config"`
}

type statusConfig struct {
	SSID         string `json:"ssid"`
	BrokerHost   string `json:"mqtt_host"`
	BrokerPort   int    `json:"mqtt_port"`
	ReadInterval int    `json:"read_interval"`
	SleepMode    string `json:"sleep_mode"`
}

func (n *Node) statusReport() string {
	d := n.device
	addr := addrString(n.link.Address())
	uptime := formatUptime(n.uptime())

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	line("=== STATUS ===")
	line("Device ID: %s", d.DeviceID)
	line("Mode: %s", strings.ToUpper(n.mode.String()))
	line("WiFi SSID: %s", d.SSID)
	line("WiFi Connected: %s", yesNo(n.linkUp))
	line("IP: %s", addr)
	line("MQTT Host: %s", d.BrokerHost)
	line("MQTT Port: %d", d.BrokerPort)
	line("MQTT Connected: %s", yesNo(n.session.Connected()))
	line("Read Interval: %ds", d.ReadInterval)
	line("Sensors: %s", d.Sensors)
	line("Sleep: %s (%dmin)", onOff(d.SleepEnabled), d.SleepMinutes)
	line("Alarms: Humidity %d-%d%%, Temp <%dC", d.Alarms.HumidityMin, d.Alarms.HumidityMax, d.Alarms.TemperatureMax)
	line("Debug Level: %d (%s)", d.DebugLevel, command.DebugLevelName(d.DebugLevel))
	line("LED: %s", onOff(d.LEDEnabled))
	line("Time Synced: %s", yesNo(n.timeSynced))
	line("Uptime: %s", uptime)
	line("Free Heap: %d bytes", n.freeHeap)
	line("Firmware: %s", n.cfg.Node.Version)
	line("=============")

	sleep := "disabled"
	if d.SleepEnabled {
		sleep = "enabled"
	}
	doc, err := json.Marshal(statusDoc{
		Type:     "status",
		DeviceID: d.DeviceID,
		Address:  addr,
		Version:  n.cfg.Node.Version,
		RSSI:     n.rssi,
		Uptime:   uptime,
		Config: statusConfig{
			SSID:         d.SSID,
			BrokerHost:   d.BrokerHost,
			BrokerPort:   d.BrokerPort,
			ReadInterval: d.ReadInterval,
			SleepMode:    sleep,
		},
	})
	if err == nil {
		b.WriteString(telemetry.StatusPrefix)
		b.Write(doc)
	}
	return b.String()
}

// configDump is the GET_CONFIG document.
type configDump struct {
	DeviceID string `json:"deviceId"`
	Firmware string `json:"firmware"`
	Mode     Mode   `json:"mode"`
	WiFi     struct {
		SSID      string `json:"ssid"`
		Connected bool   `json:"connected"`
		Address   string `json:"ip"`
	} `json:"wifi"`
	MQTT struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"mqtt"`
	ReadInterval int                 `json:"readInterval"`
	Sensors      settings.SensorMask `json:"sensors"`
	Sleep        struct {
		Enabled bool `json:"enabled"`
		Minutes int  `json:"minutes"`
	} `json:"sleep"`
	Alarms settings.Alarms `json:"alarms"`
	NTP    struct {
		Server   string `json:"server"`
		Timezone int    `json:"timezone"`
	} `json:"ntp"`
	DebugLevel int  `json:"debugLevel"`
	LED        bool `json:"led"`
}

func (n *Node) configReport() Result {
	d := n.device
	var doc configDump
	doc.DeviceID = d.DeviceID
	doc.Firmware = n.cfg.Node.Version
	doc.Mode = n.mode
	doc.WiFi.SSID = d.SSID
	doc.WiFi.Connected = n.linkUp
	doc.WiFi.Address = addrString(n.link.Address())
	doc.MQTT.Host = d.BrokerHost
	doc.MQTT.Port = d.BrokerPort
	doc.ReadInterval = d.ReadInterval
	doc.Sensors = d.Sensors
	doc.Sleep.Enabled = d.SleepEnabled
	doc.Sleep.Minutes = d.SleepMinutes
	doc.Alarms = d.Alarms
	doc.NTP.Server = d.NTPServer
	doc.NTP.Timezone = d.UTCOffset
	doc.DebugLevel = d.DebugLevel
	doc.LED = d.LEDEnabled

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Result{Message: "error: " + err.Error()}
	}
	return Result{OK: true, Message: string(out)}
}

// ============================================================================
// Portal operations
// ============================================================================

// ScanNetworks lists visible networks. It blocks the loop for at most
// the scan timeout.
func (n *Node) ScanNetworks(ctx context.Context) ([]link.ScannedNetwork, error) {
	var (
		networks []link.ScannedNetwork
		err      error
	)
	if serr := n.submit(ctx, func(ctx context.Context) { networks, err = n.link.Scan(ctx) }); serr != nil {
		return nil, serr
	}
	return networks, err
}

// ConnectLink tries the credentials from the portal while the access
// point stays up. On success they are persisted and the joined link is
// returned; they take effect as the boot network after a restart.
func (n *Node) ConnectLink(ctx context.Context, ssid, passphrase string) (link.Info, error) {
	var (
		info link.Info
		err  error
	)
	serr := n.submit(ctx, func(ctx context.Context) {
		if n.mode != ModeSetup {
			err = ErrWrongMode
			return
		}
		next := n.device
		if err = (command.SetWiFi{SSID: ssid, Passphrase: passphrase}).Apply(&next); err != nil {
			return
		}
		if info, err = n.link.Connect(ctx, ssid, passphrase, n.cfg.ConnectTimeout()); err != nil {
			return
		}
		if err = n.opts.Store.Save(ctx, next); err != nil {
			return
		}
		n.device = next
	})
	if serr != nil {
		return link.Info{}, serr
	}
	return info, err
}

// SaveBroker persists the broker endpoint and schedules a restart.
func (n *Node) SaveBroker(ctx context.Context, host string, port int) error {
	var err error
	serr := n.submit(ctx, func(ctx context.Context) {
		next := n.device
		next.SetBroker(host, port)
		if err = n.opts.Store.Save(ctx, next); err != nil {
			return
		}
		n.device = next
		n.requestRestart("configuration saved")
	})
	if serr != nil {
		return serr
	}
	return err
}

// FactoryReset clears the store and schedules a restart.
func (n *Node) FactoryReset(ctx context.Context) error {
	var err error
	if serr := n.submit(ctx, func(ctx context.Context) { err = n.factoryReset(ctx) }); serr != nil {
		return serr
	}
	return err
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}
