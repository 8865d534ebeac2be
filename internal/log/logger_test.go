// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigureOnce(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test-svc"})

	// A second Configure must not replace the writer.
	Configure(Config{Service: "other"})

	l := WithComponent("bus")
	l.Info().Str(FieldEvent, "bumper.port").Msg("delivered")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["service"] != "test-svc" {
		t.Errorf("service = %v, want test-svc", entry["service"])
	}
	if entry["component"] != "bus" {
		t.Errorf("component = %v, want bus", entry["component"])
	}
	if entry["event"] != "bumper.port" {
		t.Errorf("event = %v, want bumper.port", entry["event"])
	}
}

func TestDerive(t *testing.T) {
	l := Derive(func(c *zerolog.Context) {
		*c = c.Str(FieldSubscriber, "motor")
	})
	l.Debug().Msg("derived logger usable")
}
