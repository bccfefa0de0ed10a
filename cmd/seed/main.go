package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/holiman/uint256"
	"github.com/xtrntr/auctionhouse/internal/auction"
	"github.com/xtrntr/auctionhouse/internal/auth"
	"github.com/xtrntr/auctionhouse/internal/config"
	"github.com/xtrntr/auctionhouse/internal/db"
	"github.com/xtrntr/auctionhouse/internal/models"
)

const (
	seedPassword = "password123"
	seedFunds    = 1000
)

var seedAsset = auction.Asset{TokenID: "NFT-000001", Nonce: 1}

// Seed the database with an owner holding one asset and two funded bidders
func main() {
	configPath := flag.String("config", os.Getenv("AUCTION_CONFIG"), "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Connect to database
	store, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close(ctx)

	authService := auth.NewAuthService(store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	owner := cfg.Auction.Owner
	bidders := []string{"bidder1", "bidder2"}

	// Create users if they don't exist
	for _, name := range append([]string{owner}, bidders...) {
		if _, err := store.GetUserByUsername(ctx, name); err == nil {
			fmt.Printf("User %s already exists\n", name)
			continue
		} else if !errors.Is(err, db.ErrUserNotFound) {
			log.Fatalf("Failed to look up %s: %v", name, err)
		}
		if _, err := authService.Register(ctx, name, seedPassword); err != nil {
			log.Fatalf("Failed to create %s: %v", name, err)
		}
		fmt.Printf("Created user %s (password %q)\n", name, seedPassword)
	}

	err = store.InTx(ctx, func(tx db.Tx) error {
		// Fund bidders that have nothing yet
		for _, name := range bidders {
			bal, err := tx.Balance(ctx, name)
			if err != nil {
				return fmt.Errorf("balance of %s: %w", name, err)
			}
			if !bal.IsZero() {
				continue
			}
			if err := tx.SetBalance(ctx, name, uint256.NewInt(seedFunds)); err != nil {
				return err
			}
			fmt.Printf("Credited %s with %d\n", name, seedFunds)
		}

		// Mint the asset unless the owner or escrow already has it
		for _, holder := range []string{owner, models.EscrowAccount} {
			qty, err := tx.Holding(ctx, holder, seedAsset)
			if err != nil {
				return err
			}
			if qty > 0 {
				fmt.Printf("%s already holds %s/%d\n", holder, seedAsset.TokenID, seedAsset.Nonce)
				return nil
			}
		}
		if err := tx.SetHolding(ctx, owner, seedAsset, 1); err != nil {
			return err
		}
		fmt.Printf("Minted %s/%d to %s\n", seedAsset.TokenID, seedAsset.Nonce, owner)
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to seed balances: %v", err)
	}

	fmt.Println("Successfully seeded the database!")
}
