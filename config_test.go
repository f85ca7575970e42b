package killbase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfigRequiresStores(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	_, err := NewConfig()
	require.ErrorContains(t, err, "database url")

	t.Setenv("DATABASE_URL", "postgres://localhost/killbase")
	_, err = NewConfig()
	require.ErrorContains(t, err, "redis url")
}

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/killbase")
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("MARKET_REGION_ID", "")
	t.Setenv("CAPITAL_GROUP_IDS", "")

	config, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, int32(10000002), config.MarketRegionID)
	require.Equal(t, []int32{30, 659}, config.CapitalGroupIDs)
}

func TestNewConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/killbase")
	t.Setenv("REDIS_URL", "localhost:6379")
	t.Setenv("MARKET_REGION_ID", "10000043")
	t.Setenv("CAPITAL_GROUP_IDS", "30, 659, 547")

	config, err := NewConfig()
	require.NoError(t, err)
	require.Equal(t, int32(10000043), config.MarketRegionID)
	require.Equal(t, []int32{30, 659, 547}, config.CapitalGroupIDs)

	t.Setenv("CAPITAL_GROUP_IDS", "thirty")
	_, err = NewConfig()
	require.Error(t, err)
}
