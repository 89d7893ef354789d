// Package dispatch gets one logical API call to the backend through an ordered
// list of transport profiles.
//
// Pipeline
//   - Every profile is wrapped as Retry(SessionRecovery(send)); SessionRecovery is
//     only installed on session-authenticated profiles.
//   - Every attempt's outcome is classified by Normalize into the closed Kind taxonomy.
//
// Retries
//   - Network, Timeout and ServerError failures are retried on the same profile.
//   - Delay before retry k is BaseDelay * 2^(k-1), capped at MaxDelay. No jitter.
//   - MaxAttempts counts every attempt including the first.
//
// Profile fallback
//   - Unauthorized, ClientError(403), Network and Timeout move on to the next profile.
//   - Anything else is surfaced immediately.
//   - A cancelled call is never retried, recovered or sent through another profile.
//
// Session recovery
//   - A 401 on a session profile triggers at most one GET of the probe path per call.
//   - A successful probe replays the original request exactly once.
//   - A failed probe, or a replay that is again 401, expires the session.
package dispatch
