package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/tradingplatform/internal/auth"
	"github.com/xtrntr/tradingplatform/internal/config"
	"github.com/xtrntr/tradingplatform/internal/db"
	"github.com/xtrntr/tradingplatform/internal/logger"
)

type demoAccount struct {
	username string
	password string
	address  common.Address
}

var demoAccounts = []demoAccount{
	{username: "admin", password: "admin-password", address: common.HexToAddress("0x00000000000000000000000000000000000000ad")},
	{username: "trader1", password: "password123", address: common.HexToAddress("0x0000000000000000000000000000000000000a01")},
	{username: "trader2", password: "password123", address: common.HexToAddress("0x0000000000000000000000000000000000000a02")},
	{username: "referrer", password: "password123", address: common.HexToAddress("0x0000000000000000000000000000000000000a03")},
}

// Seed the database with demo accounts
func main() {
	ctx := context.Background()

	cfg, err := config.Load(".env")
	if err != nil {
		logger.NewLogger("seed", "info").Entry().WithError(err).Fatal("Invalid configuration")
	}
	log := logger.NewLogger("seed", cfg.LogLevel)

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	migration, err := os.ReadFile("migrations/001_init.sql")
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to read migration")
	}
	if _, err := database.Pool.Exec(ctx, string(migration)); err != nil && !strings.Contains(err.Error(), "already exists") {
		log.Entry().WithError(err).Fatal("Failed to apply migration")
	}

	authService := auth.NewAuthService(database, cfg.JWTSecret, cfg.JWTTTL)
	created := 0
	for _, acc := range demoAccounts {
		if _, err := database.GetUserByUsername(ctx, acc.username); err == nil {
			continue
		}
		if _, err := authService.Register(ctx, acc.username, acc.password, acc.address); err != nil {
			log.Entry().WithError(err).WithField("username", acc.username).Fatal("Failed to create account")
		}
		created++
	}

	fmt.Printf("Seeded %d accounts (%d already present)\n", created, len(demoAccounts)-created)
	fmt.Printf("Set ADMIN_ADDRESSES=%s to let the admin account run round transitions\n", demoAccounts[0].address.Hex())
}
