package store

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// schema mirrors the migrated postgres tables with sqlite column types.
var schema = []string{
	`CREATE TABLE articles (
		id integer PRIMARY KEY AUTOINCREMENT,
		title varchar(500) NOT NULL,
		content text,
		images text,
		published_at datetime,
		author varchar(200),
		source_url varchar(1000) NOT NULL UNIQUE,
		source_account_id varchar(100),
		source_account_name varchar(200),
		status varchar(50) DEFAULT 'received',
		rewritten_content text,
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE rewrite_records (
		id integer PRIMARY KEY AUTOINCREMENT,
		article_id integer NOT NULL,
		variant integer NOT NULL,
		content text,
		error text,
		created_at datetime
	)`,
	`CREATE TABLE publish_tasks (
		id integer PRIMARY KEY AUTOINCREMENT,
		user_id integer NOT NULL,
		article_id integer,
		title varchar(500),
		content text,
		images text,
		account_id integer,
		scheduled_at datetime NOT NULL,
		immediate numeric DEFAULT false,
		random_delay_minutes integer DEFAULT 0,
		random_filler numeric DEFAULT false,
		status varchar(50) DEFAULT 'pending',
		error text,
		remote_task_id varchar(100),
		created_at datetime,
		updated_at datetime
	)`,
	`CREATE TABLE remote_accounts (
		id integer PRIMARY KEY AUTOINCREMENT,
		user_id integer NOT NULL,
		name varchar(100),
		username varchar(200) NOT NULL,
		password varchar(200) NOT NULL,
		totp_secret varchar(100),
		is_default numeric DEFAULT false,
		created_at datetime,
		updated_at datetime
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "cascade.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}
