package httpapi

import (
	"math"
	"time"

	"github.com/ghalamif/AegisArchive/internal/app/engine"
	"github.com/ghalamif/AegisArchive/internal/domain"
)

type ChannelInfo struct {
	ID             domain.ChannelID `json:"id"`
	Name           string           `json:"name"`
	Mechanism      string           `json:"mechanism"`
	State          string           `json:"state"`
	Info           string           `json:"info,omitempty"`
	Connected      bool             `json:"connected"`
	Received       uint64           `json:"received"`
	DecodeFailures uint64           `json:"decode_failures"`
	Buffered       int              `json:"buffered"`
	Dropped        uint64           `json:"dropped"`
	HighWaterMark  int              `json:"high_water_mark"`
	Current        string           `json:"current"`
	LastArchived   string           `json:"last_archived"`
	LastTimestamp  *time.Time       `json:"last_timestamp,omitempty"`
	Groups         []string         `json:"groups"`
}

type GroupInfo struct {
	ID       domain.GroupID `json:"id"`
	Name     string         `json:"name"`
	Enabled  bool           `json:"enabled"`
	Filter   string         `json:"filter,omitempty"`
	Result   *float64       `json:"filter_result,omitempty"`
	Channels []string       `json:"channels"`
}

func channelInfo(ch *engine.Channel) ChannelInfo {
	info := ChannelInfo{
		ID:             ch.ID(),
		Name:           ch.Name(),
		Mechanism:      ch.Mechanism(),
		State:          ch.State().String(),
		Info:           ch.InternalState(),
		Connected:      ch.IsConnected(),
		Received:       ch.Received(),
		DecodeFailures: ch.DecodeFailures(),
		Buffered:       ch.Buffer().Size(),
		Dropped:        ch.Buffer().DroppedCount(),
		HighWaterMark:  ch.Buffer().HighWaterMark(),
		Current:        ch.CurrentValueString(),
		LastArchived:   ch.LastArchivedValueString(),
		Groups:         []string{},
	}
	if s := ch.MostRecent(); s != nil {
		ts := s.Timestamp
		info.LastTimestamp = &ts
	}
	for _, g := range ch.Groups() {
		info.Groups = append(info.Groups, g.Name())
	}
	return info
}

func groupInfo(g *engine.Group) GroupInfo {
	info := GroupInfo{
		ID:       g.ID(),
		Name:     g.Name(),
		Enabled:  g.IsEnabled(),
		Channels: []string{},
	}
	if f := g.Filter(); f != nil {
		info.Filter = f.Expression()
		if v, ok := f.Result(); ok && !math.IsNaN(v) {
			info.Result = &v
		}
	}
	for _, ch := range g.Channels() {
		info.Channels = append(info.Channels, ch.Name())
	}
	return info
}
