package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			interests TEXT NOT NULL DEFAULT '[]',
			tone_preference TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL DEFAULT '',
			original_name TEXT NOT NULL,
			stored_path TEXT NOT NULL UNIQUE,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			uploaded_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS classes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			instructor TEXT NOT NULL DEFAULT '',
			credits INTEGER NOT NULL DEFAULT 0,
			textbook TEXT NOT NULL DEFAULT '',
			focus TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'UP TO DATE',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS class_schedule (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			class_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			lecture_number INTEGER NOT NULL,
			date TEXT NOT NULL DEFAULT '',
			topic TEXT NOT NULL DEFAULT '',
			chapter TEXT NOT NULL DEFAULT '',
			FOREIGN KEY(class_id) REFERENCES classes(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			class_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			due_date TEXT,
			type TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'Normal',
			lecture_range TEXT NOT NULL DEFAULT '',
			covered_topics TEXT NOT NULL DEFAULT '[]',
			FOREIGN KEY(class_id) REFERENCES classes(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS decks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			class_id INTEGER,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'processing' CHECK(status IN ('processing','ready','failed')),
			progress INTEGER NOT NULL DEFAULT 0,
			total_pages INTEGER NOT NULL DEFAULT 0,
			tags TEXT NOT NULL DEFAULT '[]',
			lecture_range TEXT NOT NULL DEFAULT '',
			covered_topics TEXT NOT NULL DEFAULT '[]',
			source_file TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(class_id) REFERENCES classes(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS flashcards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deck_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			term TEXT NOT NULL,
			definition TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			due DATETIME,
			stability REAL NOT NULL DEFAULT 0,
			difficulty REAL NOT NULL DEFAULT 0,
			elapsed_days INTEGER NOT NULL DEFAULT 0,
			scheduled_days INTEGER NOT NULL DEFAULT 0,
			reps INTEGER NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			last_review DATETIME,
			working_queue_position INTEGER DEFAULT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS review_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id INTEGER NOT NULL,
			rating INTEGER NOT NULL,
			scheduled_days INTEGER NOT NULL,
			elapsed_days INTEGER NOT NULL,
			state INTEGER NOT NULL,
			reviewed_at DATETIME NOT NULL,
			FOREIGN KEY(card_id) REFERENCES flashcards(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			class_id INTEGER NOT NULL DEFAULT 0,
			name TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 0,
			reviews INTEGER NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			UNIQUE(user_id, class_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS quizzes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			class_id INTEGER,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			difficulty TEXT NOT NULL DEFAULT 'medium',
			created_at DATETIME NOT NULL,
			FOREIGN KEY(class_id) REFERENCES classes(id) ON DELETE SET NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quiz_questions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			quiz_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			type TEXT NOT NULL,
			prompt TEXT NOT NULL,
			options TEXT,
			answer TEXT NOT NULL DEFAULT '',
			explanation TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT 'medium',
			FOREIGN KEY(quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS quiz_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			quiz_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			score REAL NOT NULL,
			taken_at DATETIME NOT NULL,
			FOREIGN KEY(quiz_id) REFERENCES quizzes(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			notebook_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'Summary',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS note_pages (
			note_id INTEGER NOT NULL,
			page_number INTEGER NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY(note_id, page_number),
			FOREIGN KEY(note_id) REFERENCES notes(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS smart_suggestions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			class_id INTEGER,
			type TEXT NOT NULL,
			context TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			link TEXT NOT NULL DEFAULT '',
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_flashcards_deck_due ON flashcards(deck_id, due);`,
		`CREATE INDEX IF NOT EXISTS idx_flashcards_working_queue ON flashcards(working_queue_position) WHERE working_queue_position IS NOT NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_decks_user ON decks(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_schedule_class_date ON class_schedule(class_id, date);`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_class_due ON assignments(class_id, due_date);`,
		`CREATE INDEX IF NOT EXISTS idx_tags_weight ON tags(user_id, weight DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_quiz_questions_quiz ON quiz_questions(quiz_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_suggestions_user_created ON smart_suggestions(user_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}
	return nil
}
