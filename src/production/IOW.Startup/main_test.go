package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{name: "defaults", args: nil, want: options{mode: modeAll}},
		{name: "api with env file", args: []string{"--mode", "api", "--env-file", "prod.env"}, want: options{mode: modeAPI, envFiles: []string{"prod.env"}}},
		{name: "migrate", args: []string{"--migrate", "--mode=ingestor"}, want: options{mode: modeIngestor, migrate: true}},
		{name: "unknown mode", args: []string{"--mode", "worker"}, wantErr: true},
		{name: "stray argument", args: []string{"serve"}, wantErr: true},
		{name: "unknown flag", args: []string{"--port", "80"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	_, err := parseFlags([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestCheckBackend(t *testing.T) {
	memory := &config.Config{Database: config.DatabaseConfig{Backend: config.BackendMemory}}
	postgres := &config.Config{Database: config.DatabaseConfig{Backend: config.BackendPostgres}}

	assert.NoError(t, checkBackend(modeAll, memory))
	assert.Error(t, checkBackend(modeAPI, memory))
	assert.Error(t, checkBackend(modeIngestor, memory))
	assert.NoError(t, checkBackend(modeAPI, postgres))
	assert.NoError(t, checkBackend(modeIngestor, postgres))
}
