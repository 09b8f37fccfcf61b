package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-node/internal/node"
)

// systemResponse is the body of GET /api/system.
type systemResponse struct {
	Time          string    `json:"time"`
	Date          string    `json:"date"`
	TimeSynced    bool      `json:"ntpSynced"`
	Address       string    `json:"ip"`
	MAC           string    `json:"mac"`
	SSID          string    `json:"ssid"`
	RSSI          int       `json:"rssi"`
	SignalQuality int       `json:"signalQuality"`
	LinkUp        bool      `json:"wifiConnected"`
	Name          string    `json:"deviceName"`
	DeviceID      string    `json:"deviceId"`
	Firmware      string    `json:"firmware"`
	Uptime        string    `json:"uptime"`
	Mode          node.Mode `json:"mode"`
	FreeHeap      uint64    `json:"freeHeap"`
	Goroutines    int       `json:"goroutines"`
	BrokerHost    string    `json:"mqttHost"`
	BrokerPort    int       `json:"mqttPort"`
	BrokerUp      bool      `json:"mqttConnected"`
}

// statusResponse is the body of GET /status.
type statusResponse struct {
	Mode     node.Mode `json:"mode"`
	DeviceID string    `json:"deviceId"`
	Address  string    `json:"ip"`
	LinkUp   bool      `json:"wifiConnected"`
	BrokerUp bool      `json:"mqttConnected"`
	Uptime   string    `json:"uptime"`
	Firmware string    `json:"firmware"`
}

// handleSystem reports the full node state for the dashboard.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	now := snap.Now()

	writeJSON(w, http.StatusOK, systemResponse{
		Time:          now.Format("15:04:05"),
		Date:          now.Format("2006-01-02"),
		TimeSynced:    snap.TimeSynced,
		Address:       snap.Address,
		MAC:           snap.MAC,
		SSID:          snap.SSID,
		RSSI:          snap.RSSI,
		SignalQuality: snap.SignalQuality,
		LinkUp:        snap.LinkUp,
		Name:          snap.Name,
		DeviceID:      snap.Device.DeviceID,
		Firmware:      snap.Version,
		Uptime:        snap.UptimeString(),
		Mode:          snap.Mode,
		FreeHeap:      snap.FreeHeap,
		Goroutines:    snap.Goroutines,
		BrokerHost:    snap.BrokerHost,
		BrokerPort:    snap.BrokerPort,
		BrokerUp:      snap.BrokerConnected,
	})
}

// handleStatus reports a compact subset, available in both modes.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.node.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:     snap.Mode,
		DeviceID: snap.Device.DeviceID,
		Address:  snap.Address,
		LinkUp:   snap.LinkUp,
		BrokerUp: snap.BrokerConnected,
		Uptime:   snap.UptimeString(),
		Firmware: snap.Version,
	})
}
