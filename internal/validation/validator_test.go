// Calsync - External Calendar Synchronization and Merge Engine
// Copyright 2026 Nordbook AB
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nordbook/calsync

package validation

import (
	"strings"
	"testing"
)

type feedRequest struct {
	URL   string `validate:"required,url"`
	Kind  string `validate:"required,oneof=ical vendor-api"`
	Name  string `validate:"omitempty,max=120"`
	Color string `validate:"omitempty,hexcolor"`
}

func TestValidateStructPasses(t *testing.T) {
	req := feedRequest{
		URL:  "https://calendar.example.com/bookings.ics",
		Kind: "ical",
	}
	if err := ValidateStruct(&req); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestValidateStructRequired(t *testing.T) {
	err := ValidateStruct(&feedRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Errors()) != 2 {
		t.Errorf("expected 2 errors (url, kind), got %d", len(err.Errors()))
	}
	if !strings.Contains(err.Error(), "URL is required") {
		t.Errorf("expected required message, got %q", err.Error())
	}
}

func TestValidateStructOneof(t *testing.T) {
	req := feedRequest{URL: "https://example.com/a.ics", Kind: "caldav"}
	err := ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error for kind")
	}
	if !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("expected oneof message, got %q", err.Error())
	}
}

func TestToAPIErrorSingle(t *testing.T) {
	err := ValidateStruct(&feedRequest{URL: "https://example.com/a.ics"})
	if err == nil {
		t.Fatal("expected validation error")
	}

	apiErr := err.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q, want VALIDATION_ERROR", apiErr.Code)
	}
	if apiErr.Details["field"] != "Kind" {
		t.Errorf("details field = %v, want Kind", apiErr.Details["field"])
	}
}

func TestToAPIErrorMultiple(t *testing.T) {
	err := ValidateStruct(&feedRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}

	apiErr := err.ToAPIError()
	fields, ok := apiErr.Details["fields"].([]map[string]interface{})
	if !ok {
		t.Fatalf("expected fields detail, got %T", apiErr.Details["fields"])
	}
	if len(fields) != 2 {
		t.Errorf("expected 2 field details, got %d", len(fields))
	}
}
