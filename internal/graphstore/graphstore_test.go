package graphstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{URL: "http://arango:8529", Username: "root", Database: "devmatrix"}, false},
		{"missing url", Config{Username: "root", Database: "devmatrix"}, true},
		{"missing username", Config{URL: "http://arango:8529", Database: "devmatrix"}, true},
		{"missing database", Config{URL: "http://arango:8529", Username: "root"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTaskKey_IsStableAndScopedByRun(t *testing.T) {
	require.Equal(t, "run-1_task-a", taskKey("run-1", "task-a"))
	require.NotEqual(t, taskKey("run-1", "task-a"), taskKey("run-2", "task-a"))
}
