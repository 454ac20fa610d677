package store

// Base schema. CREATE TABLE IF NOT EXISTS throughout so Open is
// idempotent; structural changes after v1 belong in migrations.go.
const schema = `
CREATE TABLE IF NOT EXISTS agents (
    name TEXT PRIMARY KEY,
    agent_class TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    description TEXT,
    transport TEXT,
    current_zone TEXT,
    context_summary TEXT,
    files_read TEXT,
    context_updated_at TEXT,
    last_seen TEXT,
    registered_at TEXT,
    hp_input_tokens INTEGER,
    hp_output_tokens INTEGER,
    hp_tokens_limit INTEGER,
    hp_turn_input INTEGER,
    hp_turn_output INTEGER,
    hp_updated_at TEXT,
    hp_alerts_fired TEXT,
    pid INTEGER,
    rss_bytes INTEGER,
    crew TEXT,
    session_id TEXT
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    from_agent TEXT NOT NULL,
    to_agent TEXT NOT NULL,
    content_file TEXT,
    timestamp TEXT NOT NULL,
    read_flag INTEGER NOT NULL DEFAULT 0,
    is_cc INTEGER NOT NULL DEFAULT 0,
    is_broadcast INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_to_unread
    ON messages(to_agent, read_flag);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp
    ON messages(timestamp);

CREATE TABLE IF NOT EXISTS broadcast_reads (
    message_id INTEGER NOT NULL,
    agent_name TEXT NOT NULL,
    read_at TEXT NOT NULL,
    UNIQUE(message_id, agent_name)
);

CREATE TABLE IF NOT EXISTS battle_plan (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    set_by TEXT NOT NULL,
    plan_file TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS raid_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_name TEXT NOT NULL,
    entry_file TEXT NOT NULL,
    priority TEXT NOT NULL DEFAULT 'normal',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_claims (
    file_path TEXT PRIMARY KEY,
    agent_name TEXT NOT NULL,
    claimed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_waitlist (
    file_path TEXT NOT NULL,
    agent_name TEXT NOT NULL,
    added_at TEXT NOT NULL,
    UNIQUE(file_path, agent_name)
);

CREATE TABLE IF NOT EXISTS fenix_down_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_name TEXT NOT NULL,
    files TEXT NOT NULL,
    manifest TEXT,
    consumed INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS flags (
    key TEXT PRIMARY KEY,
    value TEXT,
    set_by TEXT,
    set_at TEXT
);

CREATE TABLE IF NOT EXISTS agent_retire (
    agent_name TEXT PRIMARY KEY,
    requested_by TEXT,
    requested_at TEXT
);

CREATE TABLE IF NOT EXISTS agent_interrupt (
    agent_name TEXT PRIMARY KEY,
    requested_by TEXT,
    requested_at TEXT
);

CREATE TABLE IF NOT EXISTS invocation_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_name TEXT NOT NULL,
    pid INTEGER,
    model TEXT,
    generation INTEGER,
    rss_bytes INTEGER,
    input_tokens INTEGER,
    output_tokens INTEGER,
    exit_code INTEGER,
    timed_out INTEGER,
    interrupted INTEGER,
    compacted INTEGER,
    started_at TEXT,
    ended_at TEXT
);

CREATE TABLE IF NOT EXISTS compaction_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_name TEXT NOT NULL,
    model TEXT,
    pid INTEGER,
    rss_pre_bytes INTEGER,
    tokens_pre INTEGER,
    tokens_post INTEGER,
    generation INTEGER,
    compacted_at TEXT
);

CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS requirements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_path TEXT NOT NULL UNIQUE,
    origin TEXT,
    stage TEXT NOT NULL DEFAULT 'seed',
    created_by TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'open',
    class_required TEXT,
    assigned_to TEXT,
    created_by TEXT,
    zone TEXT,
    task_file TEXT,
    result_file TEXT,
    blocked_by TEXT,
    progress TEXT,
    files TEXT,
    activity_count INTEGER NOT NULL DEFAULT 0,
    requirement_path TEXT,
    project_id TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to, status);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    name TEXT,
    applied_at TEXT
);
`
