package credentials_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusid/eventstore/pkg/credentials"
)

func TestStaticResolverReturnsConfiguredDSN(t *testing.T) {
	r := credentials.StaticResolver(":memory:")
	dsn, err := r.DSN(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)
	assert.NoError(t, r.Close())
}
