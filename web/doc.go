// Package web is the CRM front door: a chi router that binds every browser
// request to a gateway session, serves the sign-in and sign-up forms, gates
// the CRM pages by role and exposes the session state to the single-page
// client under /api/session.
//
// # Architecture boundaries
//
// Session semantics live in the crmgate package and request plumbing in
// crmgate/middleware. This package only maps HTTP forms and JSON onto gateway
// calls and chooses which screen to draw.
//
// # What this package must NOT do
//
//   - Talk to the CRM backend directly.
//   - Decide access itself. Every page goes through the gateway's route gate.
package web
