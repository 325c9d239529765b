// Package testutil provides shared test infrastructure for integration tests.
// It uses testcontainers-go to spin up a real PostgreSQL instance, run
// all migrations, and provide a connection pool for test services.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/boohpay/vatcore/internal/database"
)

// TestDB holds a PostgreSQL test container and connection pool.
// It is shared across tests in a single package via TestMain. Each test
// should call Truncate() to reset state.
type TestDB struct {
	Pool      *pgxpool.Pool
	container testcontainers.Container
	connStr   string
}

// SetupTestDB starts a PostgreSQL container, runs all migrations, and
// returns a TestDB with an active connection pool.
//
// Usage in TestMain:
//
//	var testDB *testutil.TestDB
//
//	func TestMain(m *testing.M) {
//	    db, err := testutil.SetupTestDB()
//	    if err != nil { log.Fatal(err) }
//	    testDB = db
//	    code := m.Run()
//	    db.Close()
//	    os.Exit(code)
//	}
func SetupTestDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vatcore_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "starting postgres container")
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, errors.Wrap(err, "getting connection string")
	}

	if err := database.Migrate(connStr); err != nil {
		_ = container.Terminate(ctx)
		return nil, errors.Wrap(err, "running migrations")
	}

	pool, err := database.Connect(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, errors.Wrap(err, "creating connection pool")
	}

	return &TestDB{
		Pool:      pool,
		container: container,
		connStr:   connStr,
	}, nil
}

// ConnString returns the DSN of the container, for migration tests.
func (tdb *TestDB) ConnString() string { return tdb.connStr }

// Close terminates the container and closes the pool.
func (tdb *TestDB) Close() {
	if tdb.Pool != nil {
		tdb.Pool.Close()
	}
	if tdb.container != nil {
		_ = tdb.container.Terminate(context.Background())
	}
}

// Truncate removes all rows while preserving schema. The ledger tables
// reject DELETE through a trigger, TRUNCATE is the only way to reset them.
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()
	_, err := tdb.Pool.Exec(context.Background(),
		`TRUNCATE vat_refund_adjustments, vat_audit_logs, vat_transactions, vat_rates CASCADE`)
	if err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
}
