package domain

import "time"

// EngineID identifies an archive engine instance in the catalog.
type EngineID int64

// GroupID identifies a channel group in the catalog.
type GroupID int64

// MonitorMode is recorded whenever acquisition of a channel is switched on or off.
type MonitorMode string

const (
	MonitorOn  MonitorMode = "ON"
	MonitorOff MonitorMode = "OFF"
)

// EngineConfig is the catalog entry of an engine.
type EngineConfig struct {
	ID   EngineID `yaml:"id" json:"id"`
	Name string   `yaml:"name" json:"name"`
	URL  string   `yaml:"url" json:"url,omitempty"`
}

// GroupConfig is the catalog entry of a channel group. Filter is an optional
// enablement expression over source names.
type GroupConfig struct {
	ID     GroupID `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Filter string  `yaml:"filter" json:"filter,omitempty"`
}

// ChannelConfig is the catalog entry of an archived channel.
type ChannelConfig struct {
	ID             ChannelID `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	BufferCapacity int       `yaml:"buffer_capacity" json:"buffer_capacity,omitempty"`
}

// Metadata describes a source as reported on (re)connect.
type Metadata struct {
	DisplayLow  float64
	DisplayHigh float64
	Units       string
	EnumLabels  []string
}

// HasDisplayRange reports whether the display limits carry information.
func (m *Metadata) HasDisplayRange() bool {
	return m != nil && m.DisplayLow < m.DisplayHigh
}

// StatusRecord is a connection or monitor-mode event as persisted by a facade.
type StatusRecord struct {
	ChannelID ChannelID
	Connected bool
	Mode      MonitorMode
	EngineID  EngineID
	Info      string
	Timestamp time.Time
}
