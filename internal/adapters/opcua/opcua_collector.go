package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisFleet/internal/domain"
	"github.com/ghalamif/AegisFleet/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint" toml:"endpoint"`
	Username         string        `yaml:"username" toml:"username"`
	Password         string        `yaml:"password" toml:"password"`
	SecurityMode     string        `yaml:"security_mode" toml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy" toml:"security_policy"`
	ApplicationName  string        `yaml:"application_name" toml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval" toml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval" toml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes" toml:"nodes"`
}

// NodeConfig maps a monitored node onto a signal id. Type forces a
// conversion; when empty the variant's own type is kept.
type NodeConfig struct {
	NodeID   string `yaml:"node_id" toml:"node_id"`
	SignalID uint32 `yaml:"signal_id" toml:"signal_id"`
	Type     string `yaml:"type" toml:"type"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisFleet Agent"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	seen := make(map[uint32]string, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.NodeID == "" {
			return errors.New("node_id is required")
		}
		if n.SignalID == uint32(domain.InvalidSignalID) {
			return fmt.Errorf("node %q: invalid signal_id", n.NodeID)
		}
		if prev, ok := seen[n.SignalID]; ok {
			return fmt.Errorf("node %q: signal_id %d already used by %q", n.NodeID, n.SignalID, prev)
		}
		seen[n.SignalID] = n.NodeID
		if n.Type != "" {
			if _, err := domain.ParseSignalType(n.Type); err != nil {
				return fmt.Errorf("node %q: %w", n.NodeID, err)
			}
		}
	}
	return nil
}

type Collector struct {
	cfg       Config
	obs       ports.Observability
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	mu        sync.Mutex
	started   bool
}

func NewCollector(cfg Config, obs ports.Observability) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{cfg: cfg, obs: obs}, nil
}

func (c *Collector) Start(out chan<- domain.CollectedSignal) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("opcua collector already started")
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	clientOpts, err := c.buildClientOptions()
	if err != nil {
		cancel()
		return err
	}

	client, err := opcua.NewClient(c.cfg.Endpoint, clientOpts...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: c.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handleMap := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			c.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
		}
		handleMap[handle] = node
	}

	c.mu.Lock()
	c.client = client
	c.sub = sub
	c.cancel = cancel
	c.handleMap = handleMap
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	sub := c.sub
	client := c.client
	c.started = false
	c.cancel = nil
	c.sub = nil
	c.client = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- domain.CollectedSignal) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.obs.LogError("opcua notification", notif.Error)
				continue
			}
			c.processNotification(ctx, notif.Value, out)
		}
	}
}

func (c *Collector) processNotification(ctx context.Context, val interface{}, out chan<- domain.CollectedSignal) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}

	for _, item := range data.MonitoredItems {
		nodeCfg, ok := c.handleMap[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		sv, err := nodeValue(nodeCfg, item.Value.Value)
		if err != nil {
			c.obs.IncCounter("aegis_opcua_unsupported_total", 1)
			c.obs.LogError("opcua skip node", err, ports.Field{Key: "node", Value: nodeCfg.NodeID})
			continue
		}

		ts := item.Value.ServerTimestamp
		if ts.IsZero() {
			ts = item.Value.SourceTimestamp
		}
		if ts.IsZero() {
			ts = time.Now()
		}

		sig := domain.CollectedSignal{
			SignalID:    domain.SignalID(nodeCfg.SignalID),
			ReceiveTime: ts,
			Value:       sv,
		}

		select {
		case <-ctx.Done():
			return
		case out <- sig:
		}
	}
}

func (c *Collector) buildClientOptions() ([]opcua.Option, error) {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(c.cfg.SecurityPolicy)),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}

	if c.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	return opts, nil
}

func (c *Collector) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

// nodeValue converts a variant into a signal value. Without a configured
// type the variant's own numeric type is kept.
func nodeValue(n NodeConfig, v *ua.Variant) (domain.SignalValue, error) {
	if v == nil {
		return domain.SignalValue{}, errors.New("empty variant")
	}
	native, ok := variantValue(v.Value())
	if !ok {
		return domain.SignalValue{}, fmt.Errorf("unsupported variant type %T", v.Value())
	}
	if n.Type == "" {
		return native, nil
	}
	t, err := domain.ParseSignalType(n.Type)
	if err != nil {
		return domain.SignalValue{}, err
	}
	if t == native.Type() {
		return native, nil
	}
	return domain.NewSignalValue(t, native.Float64())
}

func variantValue(v any) (domain.SignalValue, bool) {
	switch val := v.(type) {
	case bool:
		return domain.BoolValue(val), true
	case float32:
		return domain.FloatValue(val), true
	case float64:
		return domain.DoubleValue(val), true
	case int8:
		return domain.Int8Value(val), true
	case uint8:
		return domain.Uint8Value(val), true
	case int16:
		return domain.Int16Value(val), true
	case uint16:
		return domain.Uint16Value(val), true
	case int32:
		return domain.Int32Value(val), true
	case uint32:
		return domain.Uint32Value(val), true
	case int64:
		return domain.Int64Value(val), true
	case uint64:
		return domain.Uint64Value(val), true
	default:
		return domain.SignalValue{}, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Collector = (*Collector)(nil)
