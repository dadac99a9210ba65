package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type testPoint struct {
	Zoom int `json:"zoom_level" validate:"min=1,max=20"`
}

type testShape struct {
	Name   string      `json:"name" validate:"required"`
	Point  *testPoint  `json:"location" validate:"required"`
	Points []testPoint `json:"layers" validate:"min=1,dive"`
}

func TestValidateStruct_ReportsJsonPaths(t *testing.T) {
	violations, err := ValidateStruct(&testShape{
		Point:  &testPoint{Zoom: 0},
		Points: []testPoint{{Zoom: 3}, {Zoom: 25}},
	})
	if err != nil {
		t.Fatalf("ValidateStruct: %v", err)
	}
	got := map[string]string{}
	for _, v := range violations {
		got[v.Field] = v.Message
	}
	want := map[string]string{
		"name":                "is required",
		"location.zoom_level": "must be at least 1",
		"layers[1].zoom_level": "must be at most 20",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for field, msg := range want {
		if got[field] != msg {
			t.Fatalf("%s: got %q, want %q", field, got[field], msg)
		}
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	violations, err := ValidateStruct(&testShape{Name: "ok", Point: &testPoint{Zoom: 12}, Points: []testPoint{{Zoom: 1}}})
	if err != nil || violations != nil {
		t.Fatalf("expected no violations, got %v (%v)", violations, err)
	}
}

func TestIsRetryableTxError(t *testing.T) {
	deadlock := fmt.Errorf("reserve: %w", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	if !IsRetryableTxError(deadlock) {
		t.Fatalf("deadlock should be retryable")
	}
	if !IsRetryableTxError(&mysql.MySQLError{Number: 1205}) {
		t.Fatalf("lock wait timeout should be retryable")
	}
	if IsRetryableTxError(&mysql.MySQLError{Number: 3819}) {
		t.Fatalf("check constraint violation must not be retried")
	}
	if IsRetryableTxError(errors.New("boom")) {
		t.Fatalf("plain error must not be retried")
	}
}

func TestIsDuplicateKeyError(t *testing.T) {
	if !IsDuplicateKeyError(fmt.Errorf("create: %w", gorm.ErrDuplicatedKey)) {
		t.Fatalf("translated duplicate key should match")
	}
	if !IsDuplicateKeyError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}) {
		t.Fatalf("raw mysql duplicate entry should match")
	}
	if IsDuplicateKeyError(&mysql.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock is not a duplicate key")
	}
}

func TestMarshalToJSON_ReportsUnsupportedValues(t *testing.T) {
	if got, err := MarshalToJSON(map[string]int{"WOOD_WALNUT": 2}); err != nil || got != `{"WOOD_WALNUT":2}` {
		t.Fatalf("MarshalToJSON = %q, %v", got, err)
	}
	if _, err := MarshalToJSON(make(chan int)); err == nil {
		t.Fatalf("expected an error for a channel")
	}
}

func TestParseIdList(t *testing.T) {
	got := ParseIdList(" 3, ,1,2 ")
	if len(got) != 3 || got[0] != "3" || got[2] != "2" {
		t.Fatalf("unexpected %v", got)
	}
}
