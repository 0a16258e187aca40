package testinfra

import (
	"context"
	"os"
	"strings"
	"testing"

	"workshop/persistence"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type TestDatabase struct {
	TestDatabaseName string
	DS               *persistence.DataSourceManager
}

// StartMysqlTestDatabase creates a throw-away database on TEST_MYSQL_SERVICE, e.g. root:root@(127.0.0.1:3306).
// The test is skipped when the variable is not set.
func StartMysqlTestDatabase(t *testing.T, baseName string) *TestDatabase {
	mysqlSvc := os.Getenv("TEST_MYSQL_SERVICE")
	if mysqlSvc == "" {
		t.Skip("TEST_MYSQL_SERVICE not set")
	}
	databaseName := baseName + "_test_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	dbConfig := &persistence.DatabaseConfig{
		DriverType: "mysql", DriverArgs: mysqlSvc + "/" + databaseName + "?charset=utf8mb4&parseTime=True&loc=Local&timeout=5s",
	}

	if err := persistence.PrepareMysqlDatabase(dbConfig.DriverArgs); err != nil {
		t.Fatalf("failed to prepare database %v\n", err)
	}

	ds := &persistence.DataSourceManager{DatabaseConfig: dbConfig}
	if err := ds.Start(); err != nil {
		defer ds.Stop()
		t.Fatalf("database conneciton failed %v\n", err)
	}

	return &TestDatabase{TestDatabaseName: databaseName, DS: ds}
}

func StopMysqlTestDatabase(testDatabase *TestDatabase) {
	if testDatabase == nil || testDatabase.DS == nil {
		return
	}
	if db := testDatabase.DS.GormDB(context.Background()); db != nil {
		if err := db.Exec("DROP DATABASE " + testDatabase.TestDatabaseName).Error; err != nil {
			logrus.Warn("failed to drop test database: " + testDatabase.TestDatabaseName)
		} else {
			logrus.Info("test database " + testDatabase.TestDatabaseName + " dropped")
		}
	}
	testDatabase.DS.Stop()
}
