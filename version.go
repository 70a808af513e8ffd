package hs2pool

// Version is set at link time with -ldflags "-X github.com/aretw0/hs2pool.Version=...".
var Version = "dev"
