// Package httpstatus exposes a *usbtmc.Device's state over a small
// read-only JSON HTTP surface: capability flags, aggregate transfer
// counters, zombie state, and open handle count. It exists purely so an
// operator running one of the cmd/ test harnesses against real hardware
// can inspect driver state without attaching a debugger; it never accepts
// a write.
package httpstatus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/GuidoKiener/linux-usbtmc"
	"github.com/GuidoKiener/linux-usbtmc/generichttp"
	"github.com/GuidoKiener/linux-usbtmc/server"
)

// Status wraps a *usbtmc.Device as an HTTPBinder, mounting its routes
// under the given URL stem via server.Server's RouteTable idiom.
type Status struct {
	dev *usbtmc.Device
	srv *server.Server
}

// New builds a Status surface for dev, mounted at urlStem.
func New(dev *usbtmc.Device, urlStem string) *Status {
	s := &Status{dev: dev}
	s.srv = &server.Server{URLStem: urlStem, RouteTable: s.routes()}
	return s
}

func (s *Status) routes() server.RouteTable {
	return server.RouteTable{
		"zombie":            generichttp.GetBool(s.dev.Zombie),
		"open-handle-count": generichttp.GetInt(s.dev.OpenHandleCount),
		"out-transfer-size": generichttp.GetUint64(s.dev.OutTransferSize),
		"in-transfer-size":  generichttp.GetUint64(s.dev.InTransferSize),
		"io-buffer-size":    generichttp.GetInt(s.dev.IOBufferSize),
		"eom-enable":        generichttp.GetBool(s.dev.EOMEnable),
		"auto-abort":        generichttp.GetBool(s.dev.AutoAbort),
		"capabilities":      s.capabilitiesHandler,
	}
}

// capabilitiesHandler reports the device's last-fetched USB488
// capability byte and its decoded flags, since Capabilities is a struct
// rather than a single scalar the generichttp helpers model.
func (s *Status) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	caps := s.dev.Capabilities()
	resp := struct {
		Coalesced byte `json:"coalesced"`
		Trigger   bool `json:"trigger"`
		Simple    bool `json:"simple"`
		SR1       bool `json:"sr1"`
		RL1       bool `json:"rl1"`
	}{
		Coalesced: caps.Coalesced,
		Trigger:   caps.HasTrigger(),
		Simple:    caps.HasSimple(),
		SR1:       caps.HasSR1(),
		RL1:       caps.HasRL1(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// BindRoutes mounts the status surface on r, satisfying server.HTTPBinder.
func (s *Status) BindRoutes(r chi.Router) {
	s.srv.BindRoutes(r)
}

// ListRoutes returns the bound endpoint names.
func (s *Status) ListRoutes() []string {
	return s.srv.ListRoutes()
}
