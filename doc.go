// Package identity provides the account lifecycle for JSON APIs: signup,
// login, session refresh, logout, password reset, and email verification,
// backed by stored JWT pairs and a durable background job queue.
//
// Tokens:
//   - Every issued JWT is persisted. Verification checks the signature and
//     then requires the stored row to agree with the decoded claims, so
//     revoking a session is deleting rows. Access and refresh tokens issue
//     as an atomic pair; refresh tokens are single use and rotate the pair,
//     reset and verification tokens are single use and short lived.
//
// Flows:
//   - Auther wires the token service, repositories, and queue together.
//     Flows that touch multiple rows (signup, rotation, logout, reset) run
//     in one transaction. Side effects such as emails run through jobs on
//     the auth topic, enqueued only after the primary work commits.
//
// Queue:
//   - The queue subpackage is a small at-least-once job queue polled by
//     per-topic workers with bounded concurrency and exponential retry
//     backoff. Exhausted jobs park in a terminal failed state for
//     inspection.
package identity
