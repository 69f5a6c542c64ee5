package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/mouseland/aistudio/internal/models"
	"github.com/mouseland/aistudio/internal/request"
)

// Connect opens the MySQL connection and runs automigrations.
func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}, &request.Request{}); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}
