package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soras/labdraft/internal/dbconfig"
)

// Lab mirrors the JSON snapshot structure
type Lab struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Quota        int    `json:"quota"`
	LotteryQuota int    `json:"lottery_quota"`
	Archived     bool   `json:"archived"`
}

func main() {
	path := "internal/assets/labs.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var labs []Lab
	if err := json.Unmarshal(data, &labs); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert and count
	var (
		total    = len(labs)
		inserted int
		skipped  int
		errs     int
	)

	for _, l := range labs {
		cmdTag, err := pool.Exec(context.Background(), `
            INSERT INTO labs (id, name, quota, lottery_quota, archived)
            VALUES ($1, $2, $3, $4, $5)
            ON CONFLICT (name) DO NOTHING
        `,
			l.ID, l.Name, l.Quota, l.LotteryQuota, l.Archived,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting lab %s: %v\n", l.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Labs seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
