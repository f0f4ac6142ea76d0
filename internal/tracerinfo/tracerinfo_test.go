package tracerinfo

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeSelf(t *testing.T) {
	info, err := Describe(context.Background(), os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.NotEmpty(t, info.Name)
}

func TestDescribeMissing(t *testing.T) {
	_, err := Describe(context.Background(), 1<<22)
	assert.Error(t, err)
}

func TestCurrentUntraced(t *testing.T) {
	assert.Zero(t, TracerPID())
	_, ok := Current(context.Background())
	assert.False(t, ok)
}
