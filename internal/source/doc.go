// Package source reads the source of record.
//
// FileSource loads a snapshot exported by the registry as YAML or JSON.
// IgnoreFile reads the .accountignore list of accounts a sync must leave
// alone.
package source
