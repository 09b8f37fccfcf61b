// Package link manages the node's wireless interface.
//
// A Manager joins a network with a bounded timeout, watches the link for
// loss, asks the radio to rejoin no more often than the reconnect cooldown
// and, when the node has nothing to join, brings up the provisioning access
// point together with the captive DNS responder from package captive.
//
// Radio work is delegated to a Driver:
//   - NMDriver uses NetworkManager (nmcli) for station mode and scanning,
//     hostapd for the access point and dnsmasq for DHCP on it
//   - SimDriver keeps everything in memory for tests and bench setups
//
// State changes are only made from the caller's goroutine. The single
// exception is the rejoin request issued by Reconnect, which runs in the
// background so the caller's loop keeps ticking.
package link
