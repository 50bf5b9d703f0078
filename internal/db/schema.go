package db

// schema 在启动时整体执行；全部使用 IF NOT EXISTS，重复执行是无害的。
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	is_admin INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS auth_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	description TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS crates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	original_name TEXT NOT NULL,
	description TEXT,
	max_version TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crate_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	crate_id INTEGER NOT NULL REFERENCES crates(id),
	version TEXT NOT NULL,
	checksum TEXT NOT NULL,
	yanked INTEGER NOT NULL DEFAULT 0,
	downloads INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	UNIQUE (crate_id, version)
);

CREATE TABLE IF NOT EXISTS crate_owners (
	crate_id INTEGER NOT NULL REFERENCES crates(id),
	user_id INTEGER NOT NULL REFERENCES users(id),
	UNIQUE (crate_id, user_id)
);

CREATE TABLE IF NOT EXISTS cached_downloads (
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	downloads INTEGER NOT NULL DEFAULT 0,
	UNIQUE (name, version)
);

CREATE TABLE IF NOT EXISTS doc_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	crate_name TEXT NOT NULL,
	version TEXT NOT NULL,
	path TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`
