package store

import (
	"errors"
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// EnsureAdmin seeds the dashboard login on first boot. A blank password
// leaves the admin surface disabled.
func EnsureAdmin(db *DB, username, password string) {
	if password == "" {
		return
	}
	var existing Admin
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("lookup admin: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash admin password: %v", err)
	}
	if err := db.Create(&Admin{Username: username, PasswordHash: hash}).Error; err != nil {
		log.Fatalf("seed admin: %v", err)
	}
}
