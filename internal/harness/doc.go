// Package harness runs end-to-end sync scenarios against an in-process fake
// of the cloud directory.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: stage_then_sweep
//	description: "A departed user is staged, then deleted after retention"
//	config:
//	  retention_months: 6
//	source:
//	  root_id: R
//	  depts:
//	    - { dept_id: R, dept_pid: R, name: Head Office }
//	  users:
//	    - { id: u1, name: Alice }
//	cloud:
//	  users:
//	    - { company_uid: c-gone, third_union_id: gone, name: Gone, depts: [root] }
//	steps:
//	  - op: sync
//	  - op: advance
//	    months: 6
//	  - op: sync
//	assertions:
//	  - type: mutation_contains
//	    call: DELETE /plus/v1/company/company_users/c-gone
//	  - type: deleted
//	    ids: [gone]
//
// # Step Operations
//
//   - sync, pull, sync_depts, sync_users, sweep, tidy, clean_depts: run the
//     named reconcile operation
//   - advance: move the clock by months and/or duration
//   - source: replace the source snapshot
//   - expire_tokens: invalidate every issued cloud token
//
// Any step may list fail entries; they are queued on the fake before the
// step runs.
//
// # Assertion Types
//
//   - mutation_contains: a recorded mutation equals call
//   - mutation_order: the calls appear in order, not necessarily adjacent
//   - mutation_count: exactly count mutations (optionally matching call)
//   - cloud_user: the account bound to third_id has the expected fields
//   - cloud_dept: the department bound to ex_dept_id has the expected fields
//   - staged, deleted: the staging or archive ids equal ids
//
// Assertions scope to one step with step (1-based); zero means the whole
// run.
//
// # Determinism
//
// Each scenario gets a fresh fake, an in-memory mirror, a fake clock that
// starts at 2026-01-01T08:00:00Z and sequential run ids, so traces can be
// compared against golden files.
package harness
