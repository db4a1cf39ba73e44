// Package store persists task records in sqlite.
//
// Every mutating operation is scoped by (id, chat_id): a task can only be
// read or changed through the chat that owns it, and a foreign chat id is
// indistinguishable from a missing row. Schema changes are additive only,
// applied as an ordered migration list tracked by PRAGMA user_version.
package store
