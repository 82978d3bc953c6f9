package database

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDSN_URL(t *testing.T) {
	dsn, err := sessionDSN(Config{
		DSN:            "postgres://app:secret@db:5432/waste?sslmode=disable",
		TimeZone:       "Asia/Shanghai",
		ClientEncoding: "UTF8",
	})
	require.NoError(t, err)

	// lib/pq turns every query parameter into a startup parameter, which the
	// server applies to each new connection.
	kv, err := pq.ParseURL(dsn)
	require.NoError(t, err)
	assert.Contains(t, kv, "TimeZone='Asia/Shanghai'")
	assert.Contains(t, kv, "client_encoding='UTF8'")
	assert.Contains(t, kv, "sslmode='disable'")
	assert.Contains(t, kv, "dbname='waste'")
}

func TestSessionDSN_KeyValue(t *testing.T) {
	dsn, err := sessionDSN(Config{DSN: "host=db dbname=waste", TimeZone: "America/St_John's"})
	require.NoError(t, err)
	assert.Equal(t, `host=db dbname=waste TimeZone='America/St_John\'s'`, dsn)

	_, err = pq.NewConnector(dsn)
	assert.NoError(t, err)
}

func TestSessionDSN_Unchanged(t *testing.T) {
	dsn, err := sessionDSN(Config{DSN: "postgres://localhost/waste"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/waste", dsn)
}
