/*
Package domain contains the core models of the session pool.

It defines remote sessions, the pool key that scopes accounting, the error
taxonomy surfaced to callers, and the observability hooks. This package is
kept free of I/O and persistence concerns, following Hexagonal Architecture
principles.

# Key Entities

  - Session: one live remote session (GUID/Secret, owner, application, coordinator).
  - PoolKey: the (owner, application) pair every count and limit is scoped to.
  - ErrPoolExhausted, OpenError, RemoteOperationError, CloseError: failure modes of a pooled call.
  - PoolHooks: callbacks fired on open, close, reuse, rejection and call completion.
*/
package domain
