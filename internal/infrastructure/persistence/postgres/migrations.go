package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE SKILLS AND ITEMS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create skills and items tables
-- Version: 001

-- Skill taxonomy with per-skill tracer parameters
CREATE TABLE IF NOT EXISTS skills (
    id VARCHAR(100) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    prerequisites TEXT[] NOT NULL DEFAULT '{}',
    learn_rate DOUBLE PRECISION NOT NULL,
    slip_rate DOUBLE PRECISION NOT NULL,
    guess_rate DOUBLE PRECISION NOT NULL,
    forget_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    prior DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_learn CHECK (learn_rate > 0 AND learn_rate < 1),
    CONSTRAINT valid_slip CHECK (slip_rate > 0 AND slip_rate < 1),
    CONSTRAINT valid_guess CHECK (guess_rate > 0 AND guess_rate < 1),
    CONSTRAINT valid_forget CHECK (forget_rate >= 0 AND forget_rate < 1),
    CONSTRAINT valid_prior CHECK (prior >= 0 AND prior <= 1),
    CONSTRAINT valid_guess_slip CHECK (guess_rate + slip_rate < 1)
);

-- Practice items with their current 2PL calibration
CREATE TABLE IF NOT EXISTS items (
    id VARCHAR(100) PRIMARY KEY,
    skill_id VARCHAR(100) NOT NULL REFERENCES skills(id),
    answer_key TEXT[] NOT NULL,
    content_hash VARCHAR(64) NOT NULL,
    difficulty DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    discrimination DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    response_count INTEGER NOT NULL DEFAULT 0,
    low_confidence BOOLEAN NOT NULL DEFAULT TRUE,
    calibrated_at TIMESTAMP WITH TIME ZONE,
    deprecated BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_response_count CHECK (response_count >= 0)
);

CREATE INDEX IF NOT EXISTS idx_items_skill_id ON items(skill_id);
CREATE INDEX IF NOT EXISTS idx_items_selectable ON items(skill_id) WHERE NOT deprecated;
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ATTEMPT LOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create the append-only attempt log
-- Version: 002

-- Terminal attempts only (committed or rejected). Rows are never
-- updated or deleted; replay depends on that.
CREATE TABLE IF NOT EXISTS attempts (
    id UUID PRIMARY KEY,
    student_id VARCHAR(100) NOT NULL,
    skill_id VARCHAR(100) NOT NULL DEFAULT '',
    item_id VARCHAR(100) NOT NULL,
    item_content_hash VARCHAR(64) NOT NULL DEFAULT '',
    idempotency_key VARCHAR(200) NOT NULL,
    raw_response TEXT NOT NULL DEFAULT '',
    correctness DOUBLE PRECISION NOT NULL DEFAULT 0,
    response_time_ms BIGINT NOT NULL DEFAULT 0,
    state VARCHAR(20) NOT NULL,
    reject_reason TEXT NOT NULL DEFAULT '',
    received_at TIMESTAMP WITH TIME ZONE NOT NULL,
    committed_at TIMESTAMP WITH TIME ZONE,
    result JSONB,

    CONSTRAINT valid_state CHECK (state IN ('committed', 'rejected')),
    CONSTRAINT valid_correctness CHECK (correctness >= 0 AND correctness <= 1),
    CONSTRAINT uniq_idempotency UNIQUE (student_id, idempotency_key)
);

-- Replay reads a student's committed attempts in received order
CREATE INDEX IF NOT EXISTS idx_attempts_student_received
    ON attempts(student_id, received_at) WHERE state = 'committed';
CREATE INDEX IF NOT EXISTS idx_attempts_student_skill
    ON attempts(student_id, skill_id, received_at) WHERE state = 'committed';

-- Calibration scans recent responses per item
CREATE INDEX IF NOT EXISTS idx_attempts_item_received
    ON attempts(item_id, received_at) WHERE state = 'committed';
`


// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE MASTERY PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create the mastery profile projection
-- Version: 003

CREATE TABLE IF NOT EXISTS mastery_profiles (
    student_id VARCHAR(100) NOT NULL,
    skill_id VARCHAR(100) NOT NULL REFERENCES skills(id),
    mastery DOUBLE PRECISION NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_attempt_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, skill_id),

    CONSTRAINT valid_mastery CHECK (mastery >= 0 AND mastery <= 1),
    CONSTRAINT valid_confidence CHECK (confidence >= 0 AND confidence <= 1),
    CONSTRAINT valid_attempts CHECK (attempts >= 0)
);

CREATE INDEX IF NOT EXISTS idx_profiles_student ON mastery_profiles(student_id);
`


// engineMigrations returns the embedded migration set in order.
func engineMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_skills_and_items", UpSQL: migration001Up},
		{Version: 2, Name: "create_attempt_log", UpSQL: migration002Up},
		{Version: 3, Name: "create_mastery_profiles", UpSQL: migration003Up},
	}
}
