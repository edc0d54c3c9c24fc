package domain

import (
	"fmt"
	"time"
)

// SyncCounts holds per-resource counters for one sync run
type SyncCounts struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errored int `json:"errored"`
}

// SyncResult represents the outcome of syncing one company
type SyncResult struct {
	CompanyID      string        `json:"company_id"`
	Provider       ProviderType  `json:"provider,omitempty"`
	Success        bool          `json:"success"`
	Skipped        bool          `json:"skipped,omitempty"` // sync disabled for the company
	ReAuthRequired bool          `json:"reauth_required,omitempty"`
	Customers      SyncCounts    `json:"customers"`
	Products       SyncCounts    `json:"products"`
	Errors         []string      `json:"errors,omitempty"` // per-record failures
	Error          string        `json:"error,omitempty"`  // run-level failure
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// AddError records a per-record failure.
func (r *SyncResult) AddError(kind, key string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s %s: %v", kind, key, err))
}

// Created returns the number of rows inserted across resources
func (r *SyncResult) Created() int {
	return r.Customers.Created + r.Products.Created
}

// Updated returns the number of rows updated across resources
func (r *SyncResult) Updated() int {
	return r.Customers.Updated + r.Products.Updated
}
