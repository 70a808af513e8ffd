/*
Package ports defines the driven ports (interfaces) of the session pool.

These interfaces decouple the pool manager from external implementations,
allowing it to work with various storage backends and remote transports.

# Key Interfaces

  - SessionStore: persists session records and answers pool-key scoped lookups.
  - Gateway: opens and closes sessions on the remote service.
  - DistributedLocker: provides distributed locking when several processes share one store.

RunSessionStoreContract is exported so every SessionStore adapter can run the same suite.
*/
package ports
