/*
Package health provides health check mechanisms for monitoring cluster
member liveness in Atomix.

Two checker types share the Checker interface: HTTP and TCP — a member
is a network-addressable peer, not a container, so there is nothing to
exec into (see DESIGN.md for the dropped exec-based checker).
Status tracks the consecutive failures and successes reported to it and
flips a member from healthy to unhealthy after config.Retries
consecutive failures — not on the first blip, to absorb transient
network noise. No other package in this module runs these checkers;
pkg/discovery's Leave events come from its own node-list changes.
*/
package health
