package database

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_keys (
    user_id    BIGINT       NOT NULL PRIMARY KEY,
    api_key    VARCHAR(255) NOT NULL,
    updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`,
}
