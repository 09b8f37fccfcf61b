package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-node/internal/command"
	"github.com/nerrad567/gray-logic-node/internal/link"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/settings"
)

type scannedNetwork struct {
	SSID    string `json:"ssid"`
	RSSI    int    `json:"rssi"`
	Secure  bool   `json:"secure"`
	Quality int    `json:"quality"`
}

type connectRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// saveRequest fields are optional; an absent key keeps the stored value.
type saveRequest struct {
	Host *string `json:"mqttHost"`
	Port *int    `json:"mqttPort"`
}

// handleScan lists visible networks, strongest first.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	networks, err := s.node.ScanNetworks(r.Context())
	if err != nil {
		s.logger.Warn("scan failed", "error", err)
		writeInternalError(w, "scan failed")
		return
	}

	out := make([]scannedNetwork, 0, len(networks))
	for _, n := range networks {
		out = append(out, scannedNetwork{
			SSID:    n.SSID,
			RSSI:    n.RSSI,
			Secure:  n.Secure,
			Quality: n.Quality(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"networks": out,
		"count":    len(out),
	})
}

// handleConnect tries the submitted credentials. On success they are
// persisted and the address obtained on the station network is returned.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SSID == "" {
		writeBadRequest(w, "ssid is required")
		return
	}

	info, err := s.node.ConnectLink(r.Context(), req.SSID, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, command.ErrBadFormat), errors.Is(err, command.ErrOutOfRange):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, node.ErrWrongMode):
		writeFailure(w, http.StatusConflict, "not in setup mode")
		return
	case errors.Is(err, link.ErrTimeout):
		writeFailure(w, http.StatusGatewayTimeout, "connection timed out")
		return
	case errors.Is(err, link.ErrRejected):
		writeFailure(w, http.StatusBadGateway, "connection failed, check the password")
		return
	default:
		s.logger.Warn("portal connect failed", "ssid", req.SSID, "error", err)
		writeFailure(w, http.StatusBadGateway, "connection failed")
		return
	}

	s.logger.Info("portal joined network", "ssid", info.SSID, "address", info.Address.String())
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "connected",
		"ip":      info.Address.String(),
	})
}

// handleSave persists the broker endpoint and restarts the node. Keys
// missing from the body keep their stored values; an explicitly empty
// host disables the broker session.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := s.node.Snapshot().Device
	host, port := dev.BrokerHost, dev.BrokerPort
	if req.Host != nil {
		host = *req.Host
	}
	if req.Port != nil {
		port = *req.Port
	}
	if port == 0 {
		port = settings.DefaultBrokerPort
	}

	if err := s.node.SaveBroker(r.Context(), host, port); err != nil {
		s.logger.Error("saving broker settings", "error", err)
		writeInternalError(w, "failed to save settings")
		return
	}
	writeOK(w, "settings saved, restarting")
}

// handleReset clears the device record and restarts the node.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.node.FactoryReset(r.Context()); err != nil {
		s.logger.Error("factory reset", "error", err)
		writeInternalError(w, "failed to clear settings")
		return
	}
	writeOK(w, "settings cleared, restarting")
}

// handleCaptiveRedirect sends every other request to the portal page.
func (s *Server) handleCaptiveRedirect(w http.ResponseWriter, r *http.Request) {
	target := "/"
	if s.portal != "" {
		target = "http://" + s.portal + "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}
