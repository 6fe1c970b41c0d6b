// SPDX-License-Identifier: MIT

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	input := strings.Join([]string{
		"code,country,place,iata,lat,lon",
		"GBMAN,GB,Manchester,MAN,53.48,-2.24",
		"gbgla,GB,Glasgow,GLA,,",
		"BAD,XX,Too Short",
		"USNYC,US,New York,,40.71,-74.00",
	}, "\n")

	rows, skipped, err := parseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, skipped)

	assert.Equal(t, "GBMAN", rows[0].Code)
	assert.Equal(t, "MAN", rows[0].IATACode)
	require.NotNil(t, rows[0].Lat)
	assert.InDelta(t, 53.48, *rows[0].Lat, 0.001)

	// Codes are uppercased and the country comes from the code itself.
	assert.Equal(t, "GBGLA", rows[1].Code)
	assert.Equal(t, "GB", rows[1].Country)
	assert.Nil(t, rows[1].Lat)
}

func TestParseCSVWithoutHeader(t *testing.T) {
	rows, skipped, err := parseCSV(strings.NewReader("GBMAN,GB,Manchester\n"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Zero(t, skipped)
}
