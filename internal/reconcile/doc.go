// Package reconcile converges the cloud directory onto the source of record.
//
// A run pulls the source snapshot into the mirror store, walks the source
// and cloud department trees side by side, diffs the user rosters by source
// id and issues the smallest set of cloud mutations that closes the gap.
// Users that left the source are staged rather than deleted; the staging
// package owns the grace period.
//
// Every step is safe to repeat. A second run against an unchanged source
// issues no mutations, and a run that failed half way is finished by the
// next one.
package reconcile
