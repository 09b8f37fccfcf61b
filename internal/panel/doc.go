// Package panel serves the node's two web pages as embedded assets.
//
// The provisioning page is shown on the access point while the node is in
// Setup mode; the dashboard is shown on the station network while it is
// Running. Both are single self-contained HTML files embedded with
// go:embed, so the binary has no runtime dependency on external files.
package panel
