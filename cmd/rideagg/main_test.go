package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/ride-window-worker/internal/dataset"
)

const march = `id_order,id_driver,id_client,dt_15_min,from_latitude,from_longitude,to_latitude,to_longitude,arrived_distance,duration,arrived_duration
o-1,d-1,c-1,2024-03-01 08:15:00,55.75,37.61,55.75,37.61,10,5,0
o-3,d-1,c-1,2024-03-09 08:15:00,55.75,37.61,55.75,37.61,5,1,0
`

const marchLate = `id_order,id_driver,id_client,dt_15_min,from_latitude,from_longitude,to_latitude,to_longitude,arrived_distance,duration,arrived_duration
o-2,d-1,c-2,2024-03-07 08:15:00,55.75,37.61,55.75,37.61,20,4,1
`

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	output := filepath.Join(dir, "out", "enriched.csv")
	require.NoError(t, os.WriteFile(first, []byte(march), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(marchLate), 0o600))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"run", "--input", first, "--input", second, "--output", output, "--log-level", "warn"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()

	rides, err := dataset.ReadRides(f)
	require.NoError(t, err)
	require.Len(t, rides, 3)
	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, []string{rides[0].OrderID, rides[1].OrderID, rides[2].OrderID})
}

func TestRunCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(input, []byte(march), 0o600))

	tests := map[string][]string{
		"missing input": {"run"},
		"bad key":       {"run", "--input", input, "--key", "vehicle"},
		"bad level":     {"run", "--input", input, "--log-level", "loud"},
		"absent file":   {"run", "--input", filepath.Join(dir, "absent.csv")},
		"negative":      {"run", "--input", input, "--retention", "-1h"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCommand()
			cmd.SetArgs(append(args, "--output", filepath.Join(dir, name+".csv")))
			assert.Error(t, cmd.ExecuteContext(context.Background()))
		})
	}
}
