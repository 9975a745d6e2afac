package sqlite

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered; each version is applied once.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	full_name  TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at TEXT NOT NULL,
	revoked_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS todos (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	is_complete INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS shared_todos (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	owner_id   TEXT NOT NULL REFERENCES users(id),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS shared_todo_items (
	id             TEXT PRIMARY KEY,
	shared_todo_id TEXT NOT NULL REFERENCES shared_todos(id),
	title          TEXT NOT NULL,
	is_complete    INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS collaborators (
	id             TEXT PRIMARY KEY,
	shared_todo_id TEXT NOT NULL REFERENCES shared_todos(id),
	user_id        TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role           TEXT NOT NULL DEFAULT 'member',
	is_read        INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	UNIQUE (shared_todo_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_todos_user ON todos(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_items_list ON shared_todo_items(shared_todo_id, created_at);
CREATE INDEX IF NOT EXISTS idx_collaborators_user ON collaborators(user_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
