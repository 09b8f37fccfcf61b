// Package process supervises long-running daemons the node depends on.
//
// The access point is provided by hostapd; the link driver starts it through
// a Manager and waits for its "AP-ENABLED" line before bringing up captive
// DNS.
//
// Features:
//   - Start/stop with SIGTERM then SIGKILL on the daemon's process group
//   - Readiness detection from an output marker
//   - Optional restart on unexpected exit, bounded by attempt count
//   - Output lines forwarded to the structured logger at debug level
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:             "hostapd",
//	    Binary:           "/usr/sbin/hostapd",
//	    Args:             []string{"/run/graynode/hostapd.conf"},
//	    ReadyMarker:      "AP-ENABLED",
//	    RestartOnFailure: true,
//	}, logger)
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
//	if err := mgr.WaitReady(ctx); err != nil {
//	    return err
//	}
package process
