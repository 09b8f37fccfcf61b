// Package captive implements the catch-all DNS responder used while the
// node runs its provisioning access point.
//
// Every A query, for any name, resolves to the access point's own address,
// so whatever hostname a joining phone or laptop probes it lands on the
// setup portal. AAAA and other types get an empty NOERROR answer.
package captive
