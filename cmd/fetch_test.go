package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestPath(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		dir     string
		want    string
		wantErr bool
	}{
		{
			name:   "http with file",
			source: "https://portal.example.com/exports/monitoring_2026-03-13.xlsx",
			dir:    "/tmp/snapshots",
			want:   filepath.Join("/tmp/snapshots", "monitoring_2026-03-13.xlsx"),
		},
		{
			name:   "ftp nested path",
			source: "ftp://ftp.example.com/pub/daily/params.xlsx",
			dir:    ".",
			want:   "params.xlsx",
		},
		{
			name:    "no file name",
			source:  "https://portal.example.com/",
			dir:     ".",
			wantErr: true,
		},
		{
			name:    "unparseable url",
			source:  "://bad",
			dir:     ".",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := destPath(tt.source, tt.dir)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
