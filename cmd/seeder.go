package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/auth"
	"github.com/frahmantamala/checkout-payments/internal/product"
	productPostgres "github.com/frahmantamala/checkout-payments/internal/product/postgres"
	"github.com/frahmantamala/checkout-payments/internal/user"
	userPostgres "github.com/frahmantamala/checkout-payments/internal/user/postgres"
)

var (
	seedPriceID  string
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo buyer and product",
	Long:  `Seed the database with a demo buyer and a priced product for local checkout testing.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gdb, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		ctx := context.Background()
		users := userPostgres.NewUserRepository(gdb)
		products := productPostgres.NewProductRepository(gdb)

		const buyerEmail = "buyer@mail.com"
		if _, err := users.GetByEmail(ctx, buyerEmail); err == nil {
			fmt.Println("buyer already exists:", buyerEmail)
		} else if errors.Is(err, internal.ErrUserNotFound) {
			hash, err := auth.HashPassword(seedPassword)
			if err != nil {
				log.Fatalf("failed to hash password: %v", err)
			}
			if err := users.Create(ctx, &user.User{Email: buyerEmail, Name: "Demo Buyer", PasswordHash: hash}); err != nil {
				log.Fatalf("failed to insert buyer: %v", err)
			}
			fmt.Println("Seeded buyer:", buyerEmail)
		} else {
			log.Fatalf("failed to look up buyer: %v", err)
		}

		existing, err := products.ListActive(ctx)
		if err != nil {
			log.Fatalf("failed to list products: %v", err)
		}
		if len(existing) > 0 {
			fmt.Printf("%d active products already present; skipping product seed\n", len(existing))
			return
		}

		p := product.NewProduct("Demo T-Shirt", decimal.RequireFromString("25.00"), "usd")
		p.Stock = 100
		if seedPriceID != "" {
			p.StripePriceID = &seedPriceID
		}
		if err := products.Create(ctx, p); err != nil {
			log.Fatalf("failed to insert product: %v", err)
		}
		if !p.IsPriced() {
			fmt.Println("Seeded product without a Stripe price; pass --price-id to make it purchasable")
			return
		}
		fmt.Println("Seeded product:", p.Name, "price:", seedPriceID)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPriceID, "price-id", "", "Stripe price id for the demo product")
	seedCmd.Flags().StringVar(&seedPassword, "password", "password", "password for the demo buyer")
}
