// Package discovery advertises the node dashboard over mDNS/DNS-SD while
// the node is Running, so operators can find it without knowing its
// address.
package discovery
