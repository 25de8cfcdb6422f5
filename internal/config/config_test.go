package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
<aprsis>
	login N0CALL-10
	server rotate.aprs2.net 14580
	filter r/60.0/25.0/50
	heartbeat-timeout 120
</aprsis>

<interface>
	serial-device /dev/ttyUSB0 9600 8n1 kiss
	callsign OH2MQK-1
	tx-ok true
	alias WIDE1-1,RELAY
	ptt-line RTS
	<kiss-subif 1>
		callsign OH2MQK-2
		tx-ok false
	</kiss-subif>
</interface>

<digipeater>
	transmitter OH2MQK-15
	ratelimit 10
	regen-from OH2MQK-2
	<wide>
		maxreq 7
		maxdone 7
		keys WIDE
	</wide>
	<source>
		source OH2MQK-1
		relay-type digipeated
		viscous-delay 0
		filter b/OH2*
	</source>
</digipeater>

<beacon>
	source OH2MQK-15
	dest APRS
	cycle 600
	symbol /#
</beacon>

<logging>
	facility local0
	level 2
</logging>
`

func TestParse_FullSample(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	require.Len(t, cfg.AprsIS, 1)
	require.Equal(t, "N0CALL-10", cfg.AprsIS[0].Login)
	require.Equal(t, []ServerAddr{{Host: "rotate.aprs2.net", Port: 14580}}, cfg.AprsIS[0].Servers)
	require.Equal(t, 120, cfg.AprsIS[0].HeartbeatTimeout)

	require.Len(t, cfg.Interfaces, 1)
	iface := cfg.Interfaces[0]
	require.Equal(t, "serial-device", iface.Kind)
	require.Equal(t, 9600, iface.Baud)
	require.True(t, iface.TxOK)
	require.Equal(t, []string{"WIDE1-1", "RELAY"}, iface.Aliases)
	require.Equal(t, "rts", iface.PTTLine)
	require.Len(t, iface.SubIfs, 1)
	require.Equal(t, "OH2MQK-2", iface.SubIfs[0].Callsign)
	require.False(t, iface.SubIfs[0].TxOK)

	require.Len(t, cfg.Digipeaters, 1)
	d := cfg.Digipeaters[0]
	require.Equal(t, "OH2MQK-15", d.Transmitter)
	require.Equal(t, "OH2MQK-2", d.RegenFrom)
	require.Equal(t, 7, d.Wide.MaxReq)
	require.Equal(t, []string{"WIDE"}, d.Wide.Keys)
	require.Len(t, d.Sources, 1)
	require.Equal(t, "digipeated", d.Sources[0].RelayType)

	require.Len(t, cfg.Beacons, 1)
	require.Equal(t, "OH2MQK-15", cfg.Beacons[0].Source)
	require.Equal(t, 600, cfg.Beacons[0].Cycle)
	require.Equal(t, "/#", cfg.Beacons[0].Extra["symbol"])

	require.Equal(t, "local0", cfg.Logging.Facility)
	require.Equal(t, 2, cfg.Logging.Level)
}

func TestParse_UnterminatedBlockErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("<aprsis>\nlogin N0CALL\n"))
	require.Error(t, err)
}

func TestParse_UnknownTopLevelErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("<bogus>\n</bogus>\n"))
	require.Error(t, err)
}
