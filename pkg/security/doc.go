/*
Package security provides certificate-based mutual TLS for Atomix's
messaging plane, independent of the wire codec used on top of it.

CertAuthority is a self-signed, cluster-local root of trust: Initialize
generates it, SaveToStore/LoadFromStore persist it (the root key is
encrypted at rest with the key derived by DeriveKeyFromClusterID),
and IssueMemberCertificate/IssueClientCertificate mint short-lived
leaf certificates for replica-to-replica and client-to-replica
connections respectively. certs.go handles the on-disk PEM layout
(~/.atomix/certs/member-<id>/{node.crt,node.key,ca.crt}) that
pkg/transport's grpc implementation loads at startup. secrets.go is a
general AES-256-GCM encrypt/decrypt helper used wherever a config value
needs to be stored at rest rather than in plaintext (e.g. a cluster
bootstrap token).
*/
package security
