// Package catalog manages the template hierarchy: groups, their ordered
// subgroups, and the action templates attached to each subgroup.
//
// Hierarchy rows are authored by content teams and read by the scheduling
// core. Group versions are immutable: superseding a group inserts a new
// active version and deactivates the old one in a single transaction, so
// text seen by already-enrolled users never changes under them.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package catalog
