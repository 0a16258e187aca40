package persistence

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
)

// PrepareMysqlDatabase creates the database named in driverArgs if it does not exist yet.
func PrepareMysqlDatabase(driverArgs string) error {
	cfg, err := mysql.ParseDSN(driverArgs)
	if err != nil {
		return err
	}
	databaseName := cfg.DBName
	if databaseName == "" {
		return errors.New("database name is missing in '" + driverArgs + "'")
	}
	if strings.ContainsAny(databaseName, "`;") {
		return errors.New("invalid database name '" + databaseName + "'")
	}

	cfg.DBName = ""
	db, err := gorm.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Exec("CREATE DATABASE IF NOT EXISTS `" + databaseName + "` DEFAULT CHARACTER SET utf8mb4").Error
}
