/*
Package session decides, for every remote call, which HiveServer2 session runs it.

A Manager owns the pool of sessions for each (owner, application) pair. Per
call it either uses the session the caller pinned with WithSession, reuses a
stored one, or opens a new one through the Gateway, subject to the Policy's
MaxSessions admission limit. After the call the session is returned to the
pool or, under CloseAfterCall, closed and forgotten.

Selection and admission for a pool key run inside a critical section that is
process-local by default and can be extended across replicas with a
ports.DistributedLocker. Remote opens and closes run outside of it.
*/
package session
