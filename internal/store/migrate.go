package store

import "log"

func AutoMigrate(db *DB) {
	if err := db.AutoMigrate(
		&Wallet{},
		&Admin{},
		&Operation{},
		&DepositLink{},
	); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
}
