// Package memory contains chat history backends. Every store implements
// core.ContextSource (summary, actor note, recent turns) for the observer and
// core.HistoryWriter for the recorder. Inbound messages are appended by the
// host through AppendMessage.
//
// Implementations: InMemoryStore (process local), SQLiteStore
// (modernc.org/sqlite) and PostgresStore (pgx connection pool).
package memory
