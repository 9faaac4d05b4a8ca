// Package types provides type definitions for structured data used throughout the resolution workbench.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// SourceRecord is the customer record as it exists in the system of record
type SourceRecord struct {
	CustomerID string `json:"customer_id" yaml:"customer_id" validate:"required"`
	Name       string `json:"name" yaml:"name" validate:"required"`
	Email      string `json:"email" yaml:"email" validate:"omitempty,email"`
	Phone      string `json:"phone" yaml:"phone"`
	Tier       string `json:"tier" yaml:"tier"`
	Region     string `json:"region,omitempty" yaml:"region,omitempty"`
}

// WorkItem is one unit of input awaiting resolution. It is immutable once created.
type WorkItem struct {
	ID           string       `json:"id" yaml:"id"`
	SourceRecord SourceRecord `json:"source_record" yaml:"source_record" validate:"required"`
	Transcript   string       `json:"transcript" yaml:"transcript" validate:"required"`
	CreatedAt    time.Time    `json:"created_at" yaml:"created_at"`
}
