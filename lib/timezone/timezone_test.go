package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsIstanbul(t *testing.T) {
	now := Now()
	require.Equal(t, Location, now.Location())

	// Türkiye abolished DST in 2016, the offset is a constant +3
	_, offset := now.Zone()
	require.Equal(t, 3*60*60, offset)

	require.WithinDuration(t, time.Now(), now, time.Second)
}
