package app

import (
	"testing"

	"github.com/aprx-project/aprxd/internal/config"
	"github.com/stretchr/testify/require"
)

func TestBuildDigipeater_RegenFromWiresConfigAndGate(t *testing.T) {
	dcfg := config.Digipeater{
		Transmitter: "OH2MQK-15",
		RegenFrom:   "OH2MQK-2",
	}
	u := buildDigipeater(dcfg)
	require.True(t, u.cfg.Regen)
	require.Equal(t, "OH2MQK-2", u.regenFrom)
}

func TestBuildDigipeater_NoRegenFromLeavesProcessPath(t *testing.T) {
	dcfg := config.Digipeater{
		Transmitter: "OH2MQK-15",
	}
	u := buildDigipeater(dcfg)
	require.False(t, u.cfg.Regen)
	require.Equal(t, "", u.regenFrom)
}
