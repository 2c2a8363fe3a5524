package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadParticipants reads the participant table. Expected header:
// stratum,titre_1,...,titre_k with k >= 2.
func LoadParticipants(path string) ([]Participant, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, fmt.Errorf("participants load failed (%s): %w", path, err)
	}
	header := rows[0]
	if len(header) < 3 || header[0] != "stratum" {
		return nil, fmt.Errorf("participants load failed (%s): header must be stratum,titre_1,...", path)
	}
	for j := 1; j < len(header); j++ {
		want := fmt.Sprintf("titre_%d", j)
		if header[j] != want {
			return nil, fmt.Errorf("participants load failed (%s): column %d is %q, expected %q", path, j, header[j], want)
		}
	}
	dim := len(header) - 1
	out := make([]Participant, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != dim+1 {
			return nil, fmt.Errorf("participants load failed (%s): row %d has %d fields, expected %d", path, i+1, len(row), dim+1)
		}
		titres := make([]float64, dim)
		for j := 0; j < dim; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("participants load failed (%s): row %d titre_%d: %w", path, i+1, j+1, err)
			}
			titres[j] = v
		}
		out = append(out, Participant{Stratum: strings.TrimSpace(row[0]), Titres: titres})
	}
	return out, nil
}

// LoadStrata reads the census stratum table. Expected header:
// stratum,population,ltc_population.
func LoadStrata(path string) ([]Stratum, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, fmt.Errorf("strata load failed (%s): %w", path, err)
	}
	if err := checkHeader(rows[0], "stratum", "population", "ltc_population"); err != nil {
		return nil, fmt.Errorf("strata load failed (%s): %w", path, err)
	}
	out := make([]Stratum, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != 3 {
			return nil, fmt.Errorf("strata load failed (%s): row %d has %d fields, expected 3", path, i+1, len(row))
		}
		pop, err := parseCount(row[1])
		if err != nil {
			return nil, fmt.Errorf("strata load failed (%s): row %d population: %w", path, i+1, err)
		}
		ltc, err := parseCount(row[2])
		if err != nil {
			return nil, fmt.Errorf("strata load failed (%s): row %d ltc_population: %w", path, i+1, err)
		}
		out = append(out, Stratum{ID: strings.TrimSpace(row[0]), Population: pop, LTCPopulation: ltc})
	}
	return out, nil
}

// LoadDeaths reads the per-stratum death table. Expected header:
// stratum,deaths.
func LoadDeaths(path string) (map[string]int, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, fmt.Errorf("deaths load failed (%s): %w", path, err)
	}
	if err := checkHeader(rows[0], "stratum", "deaths"); err != nil {
		return nil, fmt.Errorf("deaths load failed (%s): %w", path, err)
	}
	out := make(map[string]int, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != 2 {
			return nil, fmt.Errorf("deaths load failed (%s): row %d has %d fields, expected 2", path, i+1, len(row))
		}
		id := strings.TrimSpace(row[0])
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("deaths load failed (%s): stratum %q duplicated", path, id)
		}
		d, err := parseCount(row[1])
		if err != nil {
			return nil, fmt.Errorf("deaths load failed (%s): row %d deaths: %w", path, i+1, err)
		}
		out[id] = d
	}
	return out, nil
}

func readCSV(path string) ([][]string, error) {
	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()
	rows, err := csv.NewReader(fid).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("no data rows")
	}
	return rows, nil
}

func checkHeader(got []string, want ...string) error {
	if len(got) != len(want) {
		return fmt.Errorf("header has %d columns, expected %d", len(got), len(want))
	}
	for i := range want {
		if strings.TrimSpace(got[i]) != want[i] {
			return fmt.Errorf("header column %d is %q, expected %q", i, got[i], want[i])
		}
	}
	return nil
}

func parseCount(raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative count %d", v)
	}
	return v, nil
}
