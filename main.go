package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"scholarship-ledger/internal/config"
	"scholarship-ledger/internal/database"
	"scholarship-ledger/internal/ledger"
	"scholarship-ledger/internal/models"
	"scholarship-ledger/internal/router"
	"scholarship-ledger/internal/scheduler"
	"scholarship-ledger/internal/util"

	"gorm.io/gorm"
)

func main() {
	// load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// ensure basic directories exist
	if err := ensureDir(filepath.Dir(cfg.Log.File)); err != nil {
		log.Fatalf("create log dir: %v", err)
	}
	if err := ensureDir(cfg.Receipt.Dir); err != nil {
		log.Fatalf("create receipt dir: %v", err)
	}

	// init database
	db, err := database.Init(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	// run migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// provision the first admin account on an empty install
	if err := ensureAdmin(db); err != nil {
		log.Fatalf("provision admin: %v", err)
	}

	// background budget expiry sweep
	store := ledger.NewStore(db)
	scheduler.StartExpirySweep(store, time.Duration(cfg.Ledger.ExpirySweepMinutes)*time.Minute)

	// setup router
	r := router.SetupRouter(cfg, db)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	log.Printf("server listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("run server: %v", err)
	}
}

// ensureAdmin creates the initial admin user when the user table is
// empty and SL_ADMIN_PASSWORD is set. Without it an empty install simply
// has no accounts.
func ensureAdmin(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("SL_ADMIN_PASSWORD")
	if password == "" {
		log.Println("no users and SL_ADMIN_PASSWORD unset, skipping admin provisioning")
		return nil
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.User{
		Username:     "admin",
		PasswordHash: hash,
		DisplayName:  "Administrator",
		Role:         models.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}
	log.Println("created initial admin user")
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
