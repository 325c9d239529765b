package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boohpay/vatcore/internal/config"
	"github.com/boohpay/vatcore/internal/database"
	"github.com/boohpay/vatcore/internal/logger"
	"github.com/boohpay/vatcore/internal/vat"
)

// referenceRates are standard rates for the default category. Re-running
// the seeder is safe: existing (country, category, start) rows are kept.
var referenceRates = map[string]string{
	// CEMAC
	"GA": "0.18", "CM": "0.1925", "CG": "0.18", "TD": "0.18", "CF": "0.19", "GQ": "0.15",
	// UEMOA
	"SN": "0.18", "CI": "0.18", "BJ": "0.18", "BF": "0.18", "ML": "0.18", "NE": "0.19", "TG": "0.18",
	// EAC
	"KE": "0.16", "UG": "0.18", "TZ": "0.18", "RW": "0.18",
	// SADC
	"ZA": "0.15", "ZM": "0.16",
	// EU
	"FR": "0.20", "DE": "0.19", "BE": "0.21", "ES": "0.21", "IT": "0.22", "NL": "0.21", "PT": "0.23",
}

func main() {
	from := flag.String("from", "2024-01-01", "effective_from date for seeded rates (YYYY-MM-DD)")
	only := flag.String("countries", "", "comma-separated subset of countries to seed")
	flag.Parse()

	cfg := config.LoadDev()
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}

	effectiveFrom, err := time.Parse(time.DateOnly, *from)
	if err != nil {
		log.Fatalw("invalid -from date", "value", *from, "error", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	store := vat.NewPostgresStore(pool)
	regions := vat.DefaultRegionTable()

	wanted := referenceRates
	if *only != "" {
		wanted = make(map[string]string)
		for _, c := range strings.Split(*only, ",") {
			c = strings.ToUpper(strings.TrimSpace(c))
			rate, ok := referenceRates[c]
			if !ok {
				log.Fatalw("no reference rate for country", "country", c)
			}
			wanted[c] = rate
		}
	}

	created := 0
	for country, rate := range wanted {
		r := vat.VatRate{
			CountryCode:     country,
			ProductCategory: vat.DefaultCategory,
			Rate:            decimal.RequireFromString(rate),
			EffectiveFrom:   effectiveFrom,
		}
		if region := regions.RegionOf(country); region != vat.RegionNone {
			name := string(region)
			r.Region = &name
		}

		stored, isNew, err := store.CreateRate(ctx, r)
		if err != nil {
			log.Fatalw("failed to seed rate", "country", country, "error", err)
		}
		if isNew {
			created++
		}
		log.Infow("rate seeded", "country", country, "rate", stored.Rate.String(), "created", isNew)
	}

	fmt.Printf("seeded %d new rate(s), %d already present\n", created, len(wanted)-created)
}
