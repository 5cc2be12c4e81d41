package connector

import (
	"context"
	"slices"
	"strings"
	"testing"
)

type stubConnector struct{}

func (stubConnector) Stream(context.Context, Config) (*Stream, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	Register("stub-test", func() Connector { return stubConnector{} })

	ctor, err := Get("stub-test")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ctor() == nil {
		t.Fatal("constructor returned nil")
	}
	if !slices.Contains(Sources(), "stub-test") {
		t.Errorf("Sources() = %v, missing stub-test", Sources())
	}

	_, err = Get("serial")
	if err == nil {
		t.Fatal("expected error for unknown source")
	}
	if !strings.Contains(err.Error(), "stub-test") {
		t.Errorf("error should list available sources: %v", err)
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	Register("stub-dup", func() Connector { return stubConnector{} })
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("stub-dup", func() Connector { return stubConnector{} })
}
