package mysql

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/corda/corda-runtime-os-sub030/backend"
	"github.com/corda/corda-runtime-os-sub030/backend/test"
)

const testUser = "root"
const testPassword = "root"

// Creating and dropping databases is slow, but keeps test cases isolated.

func Test_MysqlStore(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	var dbName string

	test.BackendTest(t, func() backend.Store {
		db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword))
		if err != nil {
			panic(err)
		}

		dbName = "test_" + strings.Replace(uuid.NewString(), "-", "", -1)
		if _, err := db.Exec("CREATE DATABASE " + dbName); err != nil {
			panic(fmt.Errorf("creating database: %w", err))
		}

		if err := db.Close(); err != nil {
			panic(err)
		}

		return NewMysqlStore("localhost", 3306, testUser, testPassword, dbName)
	}, func(b backend.Store) {
		if err := b.Close(); err != nil {
			panic(err)
		}

		db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@/?parseTime=true&interpolateParams=true", testUser, testPassword))
		if err != nil {
			panic(err)
		}

		if _, err := db.Exec("DROP DATABASE IF EXISTS " + dbName); err != nil {
			panic(fmt.Errorf("dropping database: %w", err))
		}

		if err := db.Close(); err != nil {
			panic(err)
		}
	})
}

func Test_NewMysqlStoreFromDSN_RejectsInvalidDSN(t *testing.T) {
	_, err := NewMysqlStoreFromDSN("not a dsn")
	require.Error(t, err)
}
