// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func resetGlobalConfig() {
	globalConfig = &Config{
		DatabasePath:    ".chorus",
		BindAddr:        "0.0.0.0",
		OwnerScope:      "community",
		FinalityTimeout: "30s",
		SweepInterval:   "5m",
		ShutdownTimeout: DefaultShutdownTimeout,
		MetricsPort:     12798,
	}
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
databasePath: "/data/chorus"
bindAddr: "127.0.0.1"
ownerScope: "my-community"
finalityTimeout: "10s"
sweepInterval: "1m"
shutdownTimeout: "5s"
devIssuance: "1000000"
metricsPort: 8088
tracing: true
tracingStdout: true
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-chorus.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	defer os.Remove(tmpFile)

	expected := &Config{
		DatabasePath:    "/data/chorus",
		BindAddr:        "127.0.0.1",
		OwnerScope:      "my-community",
		FinalityTimeout: "10s",
		SweepInterval:   "1m",
		ShutdownTimeout: "5s",
		DevIssuance:     "1000000",
		MetricsPort:     8088,
		Tracing:         true,
		TracingStdout:   true,
	}

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf(
			"Loaded config does not match expected.\nActual: %+v\nExpected: %+v",
			actual,
			expected,
		)
	}
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	resetGlobalConfig()

	actual, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if actual.DatabasePath != ".chorus" {
		t.Errorf("unexpected databasePath: %s", actual.DatabasePath)
	}
	if actual.OwnerScope != "community" {
		t.Errorf("unexpected ownerScope: %s", actual.OwnerScope)
	}
	if actual.MetricsPort != 12798 {
		t.Errorf("unexpected metricsPort: %d", actual.MetricsPort)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	resetGlobalConfig()
	t.Setenv("CHORUS_DATABASE_PATH", "/env/chorus")
	t.Setenv("CHORUS_OWNER_SCOPE", "env-community")
	t.Setenv("CHORUS_METRICS_PORT", "9999")

	actual, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if actual.DatabasePath != "/env/chorus" {
		t.Errorf("unexpected databasePath: %s", actual.DatabasePath)
	}
	if actual.OwnerScope != "env-community" {
		t.Errorf("unexpected ownerScope: %s", actual.OwnerScope)
	}
	if actual.MetricsPort != 9999 {
		t.Errorf("unexpected metricsPort: %d", actual.MetricsPort)
	}
}

func TestLoad_InvalidYamlReturnsError(t *testing.T) {
	resetGlobalConfig()
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "bad-chorus.yaml")
	err := os.WriteFile(tmpFile, []byte("{not yaml"), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := LoadConfig(tmpFile); err == nil {
		t.Errorf("expected error loading invalid config file")
	}
}
