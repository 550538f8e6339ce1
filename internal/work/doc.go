// Package work implements the background work processor.
//
// # Work Type Architecture
//
// The processor executes background jobs based on:
//   - Dependencies between work types, scoped per subject
//   - Intervals (minimum time between executions, persisted across restarts)
//   - Priority (what runs first when several items are eligible)
//
// # Interval Design
//
// Intervals are hardcoded:
//
//   - coin:backfill: on-demand - FindSubjects returns only coins with an
//     empty rolling window, so the work disappears once seeded
//   - coin:metadata: 24 hours - symbols and names drift on upstream relists;
//     daily is enough and keeps fetch load off the rate budget
//
// The processor wakes on CoinAdded events (a new coin should not wait for
// the next sweep) and on a slow scheduler sweep that catches anything
// missed while the process was down.
package work
