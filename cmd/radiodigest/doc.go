// Command radiodigest runs the block pipeline and digest engine, and exposes the
// operator surface: the recorder hooks (block create, block transition), queue and
// digest inspection, explicit retries, and configuration helpers.
//
// Every command talks to the shared SQLite store directly, so it works whether or
// not a daemon process is running.
package main
