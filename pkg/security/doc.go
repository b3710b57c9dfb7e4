// Package security implements Kestrel's certificate authority: a
// self-signed root CA generated on first run, a server certificate
// for the RPC gateway's mTLS listener (the HTTP gateway serves plain
// HTTP and does not use it), and per-client
// certificates issued on request so an operator's CLI can
// authenticate with a verifiable identity.
//
// Everything is persisted as PEM files under the configured cert_dir
// (spec.md §6): ca-key.pem, ca.pem, server-key.pem, server.pem, and
// one client-<id>.pem / client-<id>-key.pem pair per issued client
// certificate. There is no separate secret store backing the CA the
// way the teacher's ClusterEncryptionKey indirection worked — a
// private key written straight to a 0600 file under an operator-owned
// data directory is the same trust boundary the rest of cert_dir
// already relies on, and avoids carrying a second, global-mutable
// encryption key into this kernel (see spec.md §9's objection to
// global mutable configuration).
//
// The gRPC gateway's mTLS tenant identification (spec.md §6) verifies
// an incoming client certificate against the root CA and reads the
// tenant id from the certificate's Common Name.
package security
