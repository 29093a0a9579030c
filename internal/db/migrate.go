package db

import (
	"fmt"

	"github.com/apollohq/apollo-gateway/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the schema for all gateway models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Credential{},
		&models.User{},
		&models.APIKey{},
		&models.ModelAlias{},
		&models.UsageRecord{},
		&models.Admin{},
	)
}
