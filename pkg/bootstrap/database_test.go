package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"watchtower/internal/config"
)

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host:     "db",
		Port:     5432,
		User:     "dq",
		Password: "p@ss/word",
		DBName:   "watchtower",
	})
	assert.Equal(t, "postgres://dq:p%40ss%2Fword@db:5432/watchtower?sslmode=disable", dsn)

	dsn = PostgresDSN(config.PostgresConfig{Host: "db", Port: 5432, User: "dq", DBName: "w", SSLMode: "require"})
	assert.Contains(t, dsn, "sslmode=require")
}
