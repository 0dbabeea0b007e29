// Command seed-catalog applies the schema and loads the product catalog and
// the default coupons.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type productJSON struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Price       decimal.Decimal   `json:"price"`
	Category    string            `json:"category"`
	PackSizesKg []decimal.Decimal `json:"packSizesKg"`
	Image       struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
		skipCoupons  bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to a products JSON file; the bundled catalog when empty")
	flag.BoolVar(&skipCoupons, "skip-coupons", false, "do not upsert the default coupons")
	flag.Parse()

	lg := zap.Must(zap.NewProduction())
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, skipCoupons); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string, skipCoupons bool) error {
	products, err := loadProducts(productsFile)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewProductRepository(pool)
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.String("name", p.Name))
	}

	if skipCoupons {
		return nil
	}
	rules := defaultCoupons(time.Now())
	if err := postgres.NewCouponRepository(pool).UpsertBatch(ctx, rules); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Upserted coupons", zap.Int("count", len(rules)))
	return nil
}

func loadProducts(path string) ([]product.Product, error) {
	data := db.SeedProducts
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read products file")
		}
	}
	return parseProducts(data)
}

func parseProducts(data []byte) ([]product.Product, error) {
	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, p := range raw {
		switch {
		case p.ID == "" || p.Name == "":
			return nil, errors.Errorf("product %q: id and name are required", p.ID)
		case !p.Price.IsPositive():
			return nil, errors.Errorf("product %s: price must be positive", p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Errorf("product %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}

		out = append(out, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			Category:    p.Category,
			PackSizesKg: p.PackSizesKg,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		})
	}
	return out, nil
}

// defaultCoupons are the launch promotions. FESTIVE25 runs for 30 days
// from the seed.
func defaultCoupons(now time.Time) []coupon.Rule {
	until := now.AddDate(0, 0, 30)
	return []coupon.Rule{
		{
			Code:         "WELCOME10",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			MaxDiscount:  decimal.NewFromInt(200),
			Description:  "10% off your first order, up to 200",
		},
		{
			Code:         "FLAT100",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(100),
			MinSubtotal:  decimal.NewFromInt(999),
			Description:  "100 off orders of 999 or more",
		},
		{
			Code:         "FESTIVE25",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(25),
			MinSubtotal:  decimal.NewFromInt(1500),
			MaxDiscount:  decimal.NewFromInt(750),
			Description:  "Festive season: 25% off orders of 1500 or more",
			ValidFrom:    &now,
			ValidUntil:   &until,
			MaxUses:      1000,
		},
	}
}
