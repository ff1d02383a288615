package domain

import (
	"context"
	"time"
)

type Team struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	TLA       string `json:"tla"`
	Crest     string `json:"crest"`
}

// ScorePair uses pointers because the backend sends null before kick-off.
type ScorePair struct {
	Home *int `json:"home"`
	Away *int `json:"away"`
}

type Score struct {
	Winner   string    `json:"winner"`
	Duration string    `json:"duration"`
	FullTime ScorePair `json:"fullTime"`
	HalfTime ScorePair `json:"halfTime"`
}

type Season struct {
	ID              int     `json:"id"`
	StartDate       string  `json:"startDate"`
	EndDate         string  `json:"endDate"`
	CurrentMatchday int     `json:"currentMatchday"`
	Winner          *string `json:"winner"`
}

type Competition struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Code   string `json:"code"`
	Type   string `json:"type"`
	Emblem string `json:"emblem"`
}

// Match is one entry of the admin job listing.
type Match struct {
	ID          int         `json:"id"`
	UTCDate     time.Time   `json:"utcDate"`
	Status      string      `json:"status"`
	Matchday    int         `json:"matchday"`
	Stage       string      `json:"stage"`
	Group       string      `json:"group"`
	LastUpdated time.Time   `json:"lastUpdated"`
	HomeTeam    Team        `json:"homeTeam"`
	AwayTeam    Team        `json:"awayTeam"`
	Score       Score       `json:"score"`
	Competition Competition `json:"competition"`
	Season      Season      `json:"season"`
}

// Listing is a fetched copy of the admin job listing.
type Listing struct {
	Matches   []Match   `json:"matches"`
	FetchedAt time.Time `json:"fetched_at"`
}

// MatchSource fetches the admin job listing from the backend.
type MatchSource interface {
	GetAdminMatches(ctx context.Context) ([]Match, error)
}

// ListingStore keeps the last fetched listing. Load returns (nil, nil) on miss.
type ListingStore interface {
	Load(ctx context.Context) (*Listing, error)
	Save(ctx context.Context, listing Listing) error
}
