package rental

import (
	"testing"
	"time"
)

func TestMonthlyTotal(t *testing.T) {
	tests := []struct {
		name    string
		listing Listing
		want    float64
	}{
		{"rent only", Listing{Rent: 250000}, 250000},
		{"rent and expenses", Listing{Rent: 250000, Expenses: floatPtr(50000)}, 300000},
		{"agency fee is not monthly", Listing{Rent: 100, Expenses: floatPtr(10), AgencyFee: floatPtr(999)}, 110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.listing.MonthlyTotal(); got != tt.want {
				t.Errorf("MonthlyTotal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTallyVotes(t *testing.T) {
	votes := []*Vote{
		{UserID: "a", Value: 1},
		{UserID: "b", Value: 1},
		{UserID: "c", Value: -1},
	}

	tests := []struct {
		viewer string
		want   Tally
	}{
		{"a", Tally{Up: 2, Down: 1, Mine: 1}},
		{"c", Tally{Up: 2, Down: 1, Mine: -1}},
		{"z", Tally{Up: 2, Down: 1}},
		{"", Tally{Up: 2, Down: 1}},
	}
	for _, tt := range tests {
		if got := TallyVotes(votes, tt.viewer); got != tt.want {
			t.Errorf("TallyVotes(viewer=%q) = %+v, want %+v", tt.viewer, got, tt.want)
		}
	}
	if got := TallyVotes(votes, "a").Score(); got != 1 {
		t.Errorf("Score() = %d, want 1", got)
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	local := time.FixedZone("ART", -3*60*60)
	earlier := FormatTime(time.Date(2024, 1, 1, 22, 0, 0, 0, local))
	later := FormatTime(time.Date(2024, 1, 2, 0, 30, 0, 5e6, time.UTC))

	if earlier != "2024-01-02T01:00:00.000Z" {
		t.Errorf("earlier = %q", earlier)
	}
	if later != "2024-01-02T00:30:00.005Z" {
		t.Errorf("later = %q", later)
	}
	if !(later < earlier) {
		t.Errorf("expected %q < %q", later, earlier)
	}
}

func TestListingHost(t *testing.T) {
	l := Listing{URL: "https://www.zonaprop.com.ar/propiedades/123"}
	if got := l.Host(); got != "zonaprop.com.ar" {
		t.Errorf("Host() = %q", got)
	}
	l.URL = "::bad"
	if got := l.Host(); got != "::bad" {
		t.Errorf("Host() = %q", got)
	}
}

func TestDefaultSessionName(t *testing.T) {
	got := DefaultSessionName(time.Date(2024, 7, 9, 10, 0, 0, 0, time.UTC))
	if got != "New Search - 2024-07-09" {
		t.Errorf("DefaultSessionName() = %q", got)
	}
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0"},
		{950, "$950"},
		{300000, "$300.000"},
		{1234.5, "$1.234,50"},
		{1999999.999, "$2.000.000"},
		{-45000, "-$45.000"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.in); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
