package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/panel"
)

// buildRouter creates the HTTP router with both surfaces and the shared
// middleware. Each request is served by the surface of the node's
// current mode.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	portal := s.portalRoutes()
	dashboard := s.dashboardRoutes()

	r.Mount("/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.node.Snapshot().Mode == node.ModeSetup {
			portal.ServeHTTP(w, req)
			return
		}
		dashboard.ServeHTTP(w, req)
	}))
	return r
}

// portalRoutes is the provisioning surface served on the access point.
func (s *Server) portalRoutes() http.Handler {
	r := chi.NewRouter()
	page := panel.Handler(s.pagesDir, panel.SetupPage)

	r.Get("/", page.ServeHTTP)
	r.Get("/status", s.handleStatus)
	r.Get("/scan", s.handleScan)
	r.Post("/connect", s.handleConnect)
	r.Post("/save", s.handleSave)
	r.Post("/reset", s.handleReset)

	// Operating system connectivity probes get the page so the captive
	// portal sheet opens.
	r.Get("/generate_204", page.ServeHTTP)
	r.Get("/fwlink", page.ServeHTTP)
	r.Get("/hotspot-detect.html", page.ServeHTTP)

	r.NotFound(s.handleCaptiveRedirect)
	r.MethodNotAllowed(s.handleCaptiveRedirect)
	return r
}

// dashboardRoutes is the monitoring surface served on the station network.
func (s *Server) dashboardRoutes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", panel.Handler(s.pagesDir, panel.DashboardPage).ServeHTTP)
	r.Get("/api/system", s.handleSystem)
	r.Get("/status", s.handleStatus)
	r.Post("/reset", s.handleReset)
	r.Get(s.wsPath(), s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "not found")
	})
	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
