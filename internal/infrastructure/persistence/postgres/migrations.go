package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_catalog", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_progress_records", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_exam_attempts", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_certificates", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "key_ordered_awaiting_index", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CATALOG (read-only for this service, seeded by the catalog owner)
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS courses (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS course_units (
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    unit_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (course_id, unit_id)
);

CREATE INDEX IF NOT EXISTS idx_course_units_order ON course_units(course_id, position);

CREATE TABLE IF NOT EXISTS exam_definitions (
    course_id TEXT PRIMARY KEY REFERENCES courses(id) ON DELETE CASCADE,
    definition JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS enrollments (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
    enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, course_id)
);
`

const migration001Down = `
DROP TABLE IF EXISTS enrollments;
DROP TABLE IF EXISTS exam_definitions;
DROP TABLE IF EXISTS course_units;
DROP TABLE IF EXISTS courses;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: PROGRESS RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// completed_units is kept on the record row so that adding a unit and
// recomputing content_completed both serialize on the same row lock.
const migration002Up = `
CREATE TABLE IF NOT EXISTS progress_records (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    completed_units TEXT[] NOT NULL DEFAULT '{}',
    content_completed BOOLEAN NOT NULL DEFAULT FALSE,
    exam_passed BOOLEAN NOT NULL DEFAULT FALSE,
    certificate_ref TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, course_id)
);

CREATE INDEX IF NOT EXISTS idx_progress_awaiting_certificate
    ON progress_records(updated_at)
    WHERE content_completed AND certificate_ref IS NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS progress_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: EXAM ATTEMPTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS exam_attempts (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'in_progress',
    definition JSONB NOT NULL,
    total_points INTEGER NOT NULL,
    passing_score INTEGER NOT NULL,
    time_limit_seconds BIGINT NOT NULL DEFAULT 0,
    answers JSONB NOT NULL DEFAULT '{}'::jsonb,
    results JSONB,
    score INTEGER NOT NULL DEFAULT 0,
    percentage INTEGER NOT NULL DEFAULT 0,
    passed BOOLEAN NOT NULL DEFAULT FALSE,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    graded_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_attempt_status CHECK (status IN ('in_progress', 'graded')),
    CONSTRAINT valid_passing_score CHECK (passing_score BETWEEN 0 AND 100),
    CONSTRAINT graded_has_timestamp CHECK (status <> 'graded' OR graded_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_attempts_user_course_status
    ON exam_attempts(user_id, course_id, status);

-- At most one open attempt per learner and course.
CREATE UNIQUE INDEX IF NOT EXISTS uq_attempts_one_in_progress
    ON exam_attempts(user_id, course_id)
    WHERE status = 'in_progress';
`

const migration003Down = `
DROP TABLE IF EXISTS exam_attempts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CERTIFICATES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS certificates (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    score_percentage NUMERIC(5,2) NOT NULL,
    document_ref TEXT NOT NULL,
    verification_code TEXT NOT NULL,
    issued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_certificates_user_course UNIQUE (user_id, course_id),
    CONSTRAINT uq_certificates_verification_code UNIQUE (verification_code),
    CONSTRAINT valid_score_percentage CHECK (score_percentage BETWEEN 0 AND 100)
);
`

const migration004Down = `
DROP TABLE IF EXISTS certificates;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: KEY-ORDERED AWAITING INDEX
// ══════════════════════════════════════════════════════════════════════════════

// The reconcile sweep pages by (user_id, course_id) instead of updated_at.
const migration005Up = `
DROP INDEX IF EXISTS idx_progress_awaiting_certificate;

CREATE INDEX IF NOT EXISTS idx_progress_awaiting_certificate_key
    ON progress_records(user_id, course_id)
    WHERE content_completed AND certificate_ref IS NULL;
`

const migration005Down = `
DROP INDEX IF EXISTS idx_progress_awaiting_certificate_key;

CREATE INDEX IF NOT EXISTS idx_progress_awaiting_certificate
    ON progress_records(updated_at)
    WHERE content_completed AND certificate_ref IS NULL;
`
