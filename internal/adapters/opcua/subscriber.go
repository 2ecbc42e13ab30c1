package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig maps a channel or filter variable name onto an OPC UA node.
// Names without an entry are parsed as node ids directly.
type NodeConfig struct {
	Name   string `yaml:"name"`
	NodeID string `yaml:"node_id"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisArchive Engine"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].Name == "" {
			c.Nodes[i].Name = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n.NodeID); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	return nil
}

type item struct {
	name     string
	nodeID   *ua.NodeID
	cb       ports.Callback
	serverID uint32
	handle   ports.Handle

	// needMeta is owned by the consumer goroutine once the item is
	// registered. It is set again by every disconnect.
	needMeta bool
}

const metadataTimeout = 2 * time.Second

// Subscriber monitors OPC UA nodes on one shared subscription. Every
// Subscribe call adds a monitored item; callbacks run on a single consumer
// goroutine in notification order.
type Subscriber struct {
	cfg     Config
	obs     ports.Observability
	aliases map[string]string

	mu         sync.RWMutex
	client     *opcua.Client
	sub        *opcua.Subscription
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	items      map[uint32]*item
	handles    map[ports.Handle]uint32
	nextHandle uint32
	started    bool

	readMeta func(ctx context.Context, nodeID *ua.NodeID) *domain.Metadata
}

func NewSubscriber(cfg Config, obs ports.Observability) (*Subscriber, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	aliases := make(map[string]string, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		aliases[n.Name] = n.NodeID
	}
	s := &Subscriber{
		cfg:     cfg,
		obs:     obs,
		aliases: aliases,
		items:   make(map[uint32]*item),
		handles: make(map[ports.Handle]uint32),
	}
	s.readMeta = s.readMetadata
	return s, nil
}

// Connect opens the session and the shared subscription.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	client, err := opcua.NewClient(s.cfg.Endpoint, s.buildClientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 256)
	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: s.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	s.client = client
	s.sub = sub
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go s.consume(runCtx, notifyCh)
	return nil
}

// Close cancels the subscription and the session.
func (s *Subscriber) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, sub, client := s.cancel, s.sub, s.client
	s.started = false
	s.cancel, s.sub, s.client = nil, nil, nil
	s.items = make(map[uint32]*item)
	s.handles = make(map[ports.Handle]uint32)
	s.mu.Unlock()

	cancel()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	s.wg.Wait()
	return err
}

func (s *Subscriber) Subscribe(ctx context.Context, name string, mode ports.Mode, cb ports.Callback) (ports.Handle, error) {
	if err := s.Connect(ctx); err != nil {
		return "", err
	}
	nodeID, err := s.resolve(name)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return "", errors.New("opcua subscriber closed")
	}

	s.nextHandle++
	clientHandle := s.nextHandle
	req := monitorRequest(nodeID, clientHandle, mode, s.cfg.SamplingInterval)

	res, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return "", fmt.Errorf("monitor %q: %w", name, err)
	}
	if len(res.Results) == 0 {
		return "", fmt.Errorf("monitor %q failed: empty result", name)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return "", fmt.Errorf("monitor %q failed: %s", name, res.Results[0].StatusCode)
	}

	h := ports.Handle(uuid.NewString())
	s.items[clientHandle] = &item{
		name:     name,
		nodeID:   nodeID,
		cb:       cb,
		serverID: res.Results[0].MonitoredItemID,
		handle:   h,
		needMeta: true,
	}
	s.handles[h] = clientHandle
	return h, nil
}

func (s *Subscriber) Unsubscribe(ctx context.Context, h ports.Handle) error {
	s.mu.Lock()
	clientHandle, ok := s.handles[h]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	it := s.items[clientHandle]
	delete(s.handles, h)
	delete(s.items, clientHandle)
	sub := s.sub
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	if _, err := sub.Unmonitor(ctx, it.serverID); err != nil {
		return fmt.Errorf("unmonitor %q: %w", it.name, err)
	}
	return nil
}

func (s *Subscriber) resolve(name string) (*ua.NodeID, error) {
	raw := name
	if alias, ok := s.aliases[name]; ok {
		raw = alias
	}
	id, err := ua.ParseNodeID(raw)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", raw, err)
	}
	return id, nil
}

func (s *Subscriber) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				s.obs.LogWarn("opcua_notification_error", notif.Error)
				var status ua.StatusCode
				if errors.As(notif.Error, &status) && isDisconnect(status) {
					s.broadcastDisconnect(fmt.Sprint(status))
				}
				continue
			}
			s.processNotification(notif.Value)
		}
	}
}

func (s *Subscriber) processNotification(val interface{}) {
	data, ok := val.(*ua.DataChangeNotification)
	if !ok {
		return
	}
	for _, mi := range data.MonitoredItems {
		s.mu.RLock()
		it, ok := s.items[mi.ClientHandle]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		u := updateFromDataValue(mi.Value, time.Now())
		switch {
		case !u.Connected:
			it.needMeta = true
		case it.needMeta:
			it.needMeta = false
			ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
			u.Metadata = s.readMeta(ctx, it.nodeID)
			cancel()
		}
		it.cb(u)
	}
}

func (s *Subscriber) broadcastDisconnect(info string) {
	s.mu.RLock()
	items := make([]*item, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, it := range items {
		it.needMeta = true
		it.cb(ports.Update{Connected: false, StateInfo: info, Timestamp: now, Severity: domain.SeverityInvalid})
	}
}

// readMetadata reads the EURange, EngineeringUnits and EnumStrings
// properties of a node. Properties the node lacks are left empty; nil means
// none was found.
func (s *Subscriber) readMetadata(ctx context.Context, nodeID *ua.NodeID) *domain.Metadata {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return nil
	}

	node := client.Node(nodeID)
	props := make(map[string]any, len(metadataProperties))
	for _, name := range metadataProperties {
		propID, err := node.TranslateBrowsePathInNamespaceToNodeID(ctx, 0, name)
		if err != nil {
			continue
		}
		v, err := client.Node(propID).Value(ctx)
		if err != nil {
			s.obs.LogWarn("opcua_metadata_read_failed", err,
				ports.Field{Key: "node", Value: nodeID.String()},
				ports.Field{Key: "property", Value: name},
			)
			continue
		}
		if v != nil {
			props[name] = v.Value()
		}
	}
	return metadataFromProperties(props)
}

var metadataProperties = []string{"EURange", "EngineeringUnits", "EnumStrings"}

// metadataFromProperties maps raw property values onto domain metadata.
func metadataFromProperties(props map[string]any) *domain.Metadata {
	var (
		meta  domain.Metadata
		found bool
	)
	if r, ok := extensionValue(props["EURange"]).(*ua.Range); ok && r != nil {
		meta.DisplayLow, meta.DisplayHigh = r.Low, r.High
		found = true
	}
	if eu, ok := extensionValue(props["EngineeringUnits"]).(*ua.EUInformation); ok && eu != nil && eu.DisplayName != nil {
		meta.Units = eu.DisplayName.Text
		found = true
	}
	if labels, ok := props["EnumStrings"].([]*ua.LocalizedText); ok {
		for _, l := range labels {
			if l == nil {
				meta.EnumLabels = append(meta.EnumLabels, "")
				continue
			}
			meta.EnumLabels = append(meta.EnumLabels, l.Text)
		}
		found = found || len(meta.EnumLabels) > 0
	}
	if !found {
		return nil
	}
	return &meta
}

func extensionValue(v any) any {
	if eo, ok := v.(*ua.ExtensionObject); ok && eo != nil {
		return eo.Value
	}
	return v
}

func (s *Subscriber) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(s.cfg.SecurityPolicy)),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

// monitorRequest builds the monitored item for one subscription. Alarm-only
// items report status changes and ignore value changes.
func monitorRequest(nodeID *ua.NodeID, clientHandle uint32, mode ports.Mode, sampling time.Duration) *ua.MonitoredItemCreateRequest {
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, clientHandle)
	if sampling > 0 {
		req.RequestedParameters.SamplingInterval = float64(sampling / time.Millisecond)
	}
	if mode == ports.ModeAlarmOnly {
		req.RequestedParameters.Filter = ua.NewExtensionObject(&ua.DataChangeFilter{
			Trigger:      ua.DataChangeTriggerStatus,
			DeadbandType: uint32(ua.DeadbandTypeNone),
		})
	}
	return req
}

func updateFromDataValue(dv *ua.DataValue, now time.Time) ports.Update {
	if dv == nil {
		return ports.Update{Connected: true, Err: errors.New("empty data value"), Timestamp: now}
	}
	status := dv.Status
	if isDisconnect(status) {
		return ports.Update{Connected: false, StateInfo: fmt.Sprint(status), Timestamp: now, Severity: domain.SeverityInvalid}
	}

	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = dv.ServerTimestamp
	}
	if ts.IsZero() {
		ts = now
	}

	u := ports.Update{
		Connected: true,
		Severity:  severityFor(status),
		Timestamp: ts,
	}
	if status != ua.StatusOK {
		u.Status = fmt.Sprint(status)
	}
	if dv.Value == nil {
		u.Err = fmt.Errorf("node reported no value (%s)", status)
		return u
	}
	u.Value = dv.Value.Value()
	return u
}

const (
	statusSeverityMask      = 0xC0000000
	statusSeverityUncertain = 0x40000000
)

// severityFor maps the OPC UA status class onto the archive severity.
func severityFor(status ua.StatusCode) domain.Severity {
	switch uint32(status) & statusSeverityMask {
	case 0:
		return domain.SeverityNone
	case statusSeverityUncertain:
		return domain.SeverityMinor
	default:
		return domain.SeverityInvalid
	}
}

func isDisconnect(status ua.StatusCode) bool {
	switch status {
	case ua.StatusBadCommunicationError,
		ua.StatusBadConnectionClosed,
		ua.StatusBadNoCommunication,
		ua.StatusBadNotConnected,
		ua.StatusBadServerNotConnected,
		ua.StatusBadSecureChannelClosed,
		ua.StatusBadSessionClosed:
		return true
	}
	return false
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

var _ ports.Subscriber = (*Subscriber)(nil)
