// Package api implements the node's HTTP surfaces.
//
// While the node is in Setup mode the provisioning portal is served on the
// access point: the setup page, a network scan, a credential test that
// joins the network while the access point stays up, broker settings and
// factory reset. Every unknown path is redirected to the portal page so
// phones and laptops open it as a captive portal.
//
// While the node is Running the dashboard is served on the station
// network: the dashboard page, a system report, a compact status report,
// factory reset and a WebSocket hub that relays live readings and alarms.
// Unknown paths get 404.
//
// The surface is chosen per request from the node's current mode, so one
// server serves both.
//
// The server follows the same lifecycle pattern as other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Failures are always reported as {"success": false, "message": "..."}.
package api
