package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/quietriver/genstack/internal/contexts"
	"github.com/quietriver/genstack/internal/ledger"
	"github.com/quietriver/genstack/internal/prompt"
	"github.com/quietriver/genstack/internal/task"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&contexts.Context{},
		&contexts.Entity{},
		&task.Task{},
		&task.Item{},
		&task.Request{},
		&prompt.Model{},
		&ledger.User{},
	)
}
