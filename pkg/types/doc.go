// Package types defines the mapping graph for sfmirror: mappings, mapped
// entities, mapped fields, filter rules, and schedule entries, together with
// the record types that flow through the sync engine and the standard errors
// shared across packages.
//
// A Mapping is one synchronization unit: it names a credential, owns a set of
// MappedEntity children (one remote object type mapped to one local type
// each), and a set of ScheduleEntry children that decide when the mapping is
// synced. Exactly one entity per mapping is the master: the entity no sibling
// refers to through a foreign-key field. The master is the traversal root for
// a sync pass.
package types
