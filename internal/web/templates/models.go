// Package templates renders the HTML pages and HTMX fragments served by the
// web package. Components are written in .templ files; run `templ generate`
// after editing them.
package templates

import (
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/billing/internal/billing"
	"github.com/JonMunkholm/billing/internal/ingest"
)

// DashboardData feeds the dashboard page.
type DashboardData struct {
	Stats         billing.Stats
	Platforms     []billing.Platform
	DefaultPolicy ingest.Policy
	MaxFileSize   int64
	// StatsError is shown instead of the counters when storage failed.
	StatsError string
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func platformPath(name string) string {
	return "/api/queries/platform-transactions/" + url.PathEscape(name)
}

func failuresPath(importID string) string {
	return "/api/upload/" + url.PathEscape(importID) + "/failures.csv"
}

func maxMegabytes(n int64) int64 {
	return n >> 20
}
