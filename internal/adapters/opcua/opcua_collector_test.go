package opcua

import (
	"context"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

type nopObs struct{ unsupported int }

func (*nopObs) LogInfo(string, ...ports.Field)                                          {}
func (*nopObs) LogError(string, error, ...ports.Field)                                  {}
func (*nopObs) LogCritical(string, error, ...ports.Field)                               {}
func (*nopObs) ObserveLatency(string, float64)                                          {}
func (*nopObs) SetGauge(string, float64)                                                {}
func (*nopObs) RecordDLQ(ports.WALEntryID, *domain.TriggeredCollectionSchemeData, error) {}

func (o *nopObs) IncCounter(name string, v float64) {
	if name == "aegis_opcua_unsupported_total" {
		o.unsupported += int(v)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]Config{
		"no endpoint":    {Nodes: []NodeConfig{{NodeID: "ns=2;s=Speed", SignalID: 1}}},
		"no nodes":       {Endpoint: "opc.tcp://plc:4840"},
		"missing id":     {Endpoint: "opc.tcp://plc:4840", Nodes: []NodeConfig{{SignalID: 1}}},
		"duplicate id":   {Endpoint: "opc.tcp://plc:4840", Nodes: []NodeConfig{{NodeID: "a", SignalID: 1}, {NodeID: "b", SignalID: 1}}},
		"invalid signal": {Endpoint: "opc.tcp://plc:4840", Nodes: []NodeConfig{{NodeID: "a", SignalID: uint32(domain.InvalidSignalID)}}},
		"bad type":       {Endpoint: "opc.tcp://plc:4840", Nodes: []NodeConfig{{NodeID: "a", SignalID: 1, Type: "complex"}}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewCollector(cfg, &nopObs{})
			assert.Error(t, err)
		})
	}

	c, err := NewCollector(Config{Endpoint: "opc.tcp://plc:4840", Nodes: []NodeConfig{{NodeID: "ns=2;s=Speed", SignalID: 7}}}, &nopObs{})
	require.NoError(t, err)
	assert.Equal(t, "None", c.cfg.SecurityMode)
	assert.Equal(t, 250*time.Millisecond, c.cfg.PublishInterval)
}

func TestNodeValueKeepsOrConvertsType(t *testing.T) {
	v, err := nodeValue(NodeConfig{}, ua.MustVariant(int16(-4)))
	require.NoError(t, err)
	assert.Equal(t, domain.Int16Value(-4), v)

	v, err = nodeValue(NodeConfig{Type: "uint8"}, ua.MustVariant(float64(200.7)))
	require.NoError(t, err)
	assert.Equal(t, domain.Uint8Value(200), v)

	v, err = nodeValue(NodeConfig{}, ua.MustVariant(true))
	require.NoError(t, err)
	assert.Equal(t, domain.BoolValue(true), v)

	_, err = nodeValue(NodeConfig{}, ua.MustVariant("text"))
	assert.Error(t, err)
	_, err = nodeValue(NodeConfig{}, nil)
	assert.Error(t, err)
}

func TestProcessNotificationEmitsSignals(t *testing.T) {
	obs := &nopObs{}
	c := &Collector{obs: obs, handleMap: map[uint32]NodeConfig{
		1: {NodeID: "ns=2;s=Speed", SignalID: 10},
		2: {NodeID: "ns=2;s=Label", SignalID: 11},
	}}
	ts := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	n := &ua.DataChangeNotification{MonitoredItems: []*ua.MonitoredItemNotification{
		{ClientHandle: 1, Value: &ua.DataValue{Value: ua.MustVariant(float32(88.5)), SourceTimestamp: ts}},
		{ClientHandle: 2, Value: &ua.DataValue{Value: ua.MustVariant("idle")}},
		{ClientHandle: 9, Value: &ua.DataValue{Value: ua.MustVariant(1.0)}},
	}}

	out := make(chan domain.CollectedSignal, 4)
	c.processNotification(context.Background(), n, out)
	close(out)

	var got []domain.CollectedSignal
	for s := range out {
		got = append(got, s)
	}
	require.Len(t, got, 1)
	assert.Equal(t, domain.SignalID(10), got[0].SignalID)
	assert.Equal(t, ts, got[0].ReceiveTime)
	assert.Equal(t, domain.FloatValue(88.5), got[0].Value)
	assert.Equal(t, 1, obs.unsupported)
}

func TestSecurityModeNormalisation(t *testing.T) {
	assert.Equal(t, "Sign", normalizeSecurityMode("sign"))
	assert.Equal(t, "SignAndEncrypt", normalizeSecurityMode("sign+encrypt"))
	assert.Equal(t, "None", normalizeSecurityMode(""))
	assert.Equal(t, "None", normalizeSecurityPolicy(""))
}
