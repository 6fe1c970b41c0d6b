// SPDX-License-Identifier: MIT

// seed loads a UN/LOCODE CSV into the broker's place dictionary.
//
// Expected columns: code,country,place,iata,lat,lon. The first row is
// skipped when it looks like a header. lat/lon may be empty.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/log"
	"github.com/rentmesh/rentmesh/internal/persistence/sqlite"
)

func main() {
	dbPath := flag.String("db", "rentmesh.db", "sqlite database path")
	csvPath := flag.String("csv", "", "UN/LOCODE csv file")
	flag.Parse()

	log.Configure(log.Config{Service: "rentmesh-seed"})
	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: seed -db rentmesh.db -csv unlocodes.csv")
		os.Exit(2)
	}
	if err := run(*dbPath, *csvPath); err != nil {
		log.WithComponent("seed").Error().Err(err).Msg("seeding failed")
		os.Exit(1)
	}
}

func run(dbPath, csvPath string) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	rows, skipped, err := parseCSV(f)
	if err != nil {
		return err
	}

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := sqlite.Migrate(ctx, db); err != nil {
		return err
	}
	if err := sqlite.NewLocationStore(db).UpsertUNLocodes(ctx, rows); err != nil {
		return err
	}
	log.WithComponent("seed").Info().
		Int("rows", len(rows)).Int("skipped", skipped).
		Msg("dictionary seeded")
	return nil
}

// parseCSV reads the dictionary rows, dropping malformed codes instead of
// failing the whole import.
func parseCSV(r io.Reader) ([]domain.UNLocode, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rows []domain.UNLocode
	skipped := 0
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read csv: %w", err)
		}
		if first {
			first = false
			if strings.EqualFold(strings.TrimSpace(record[0]), "code") {
				continue
			}
		}
		if len(record) < 3 {
			skipped++
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(record[0]))
		if len(code) != 5 {
			skipped++
			continue
		}
		row := domain.UNLocode{
			Code:    code,
			Country: code[:2],
			Place:   strings.TrimSpace(record[2]),
		}
		if len(record) > 3 {
			row.IATACode = strings.TrimSpace(record[3])
		}
		if len(record) > 5 {
			if lat, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64); err == nil {
				if lon, err := strconv.ParseFloat(strings.TrimSpace(record[5]), 64); err == nil {
					row.Lat = &lat
					row.Lon = &lon
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}
