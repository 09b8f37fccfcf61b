package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

// Embedded pages.
const (
	SetupPage     = "setup.html"
	DashboardPage = "dashboard.html"
)

//go:embed web/*.html
var content embed.FS

// Handler returns an http.Handler that serves page for every request it
// receives.
//
// When dir is non-empty and holds a file named page, that file is served
// (dev mode, no rebuild needed after editing the page). Otherwise the
// embedded copy is served.
// Panics if page is not embedded (build error).
func Handler(dir, page string) http.Handler {
	var pages fs.FS

	if dir != "" {
		if info, err := os.Stat(filepath.Join(dir, page)); err == nil && !info.IsDir() {
			pages = os.DirFS(dir)
		}
	}

	if pages == nil {
		web, err := fs.Sub(content, "web")
		if err != nil {
			panic(fmt.Sprintf("panel: failed to load embedded pages: %v", err))
		}
		if _, err := fs.Stat(web, page); err != nil {
			panic(fmt.Sprintf("panel: page %q not embedded: %v", page, err))
		}
		pages = web
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := fs.ReadFile(pages, page)
		if err != nil {
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}

		// Pages are small and change with the firmware.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			w.Write(body) //nolint:errcheck // Best-effort write; client may be gone
		}
	})
}
