// Package flows contains the orchestrators for every session operation of the
// gateway: bootstrap (restore), login, register, logout, identity update and
// the unauthorized signal.
//
// Each flow function (RunBootstrap, RunLogin, RunLogout, etc.) accepts the
// target [Session] and a typed dependency struct. Flows mutate only the
// session's Store and the collaborators passed in, which keeps the Gateway
// thin and lets tests drive every path with fake backends.
//
// # Architecture boundaries
//
// Flow functions coordinate the session store, the auth backend, restore
// claims, audit dispatcher, metrics and logging. They do NOT own any of these
// resources; ownership stays with the Gateway.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import crmgate (to avoid import cycles).
//   - Let a restore failure escape to the caller.
package flows
