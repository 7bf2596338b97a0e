package events

import (
	"encoding/json"
	"fmt"

	"github.com/cjeanneret/gphotoccd/internal/ccd"
	"github.com/cjeanneret/gphotoccd/internal/property"
)

// Transport is the subset of Client used by Publisher.
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Updater applies a property value by name.
type Updater interface {
	Update(name, value string) error
}

// Publisher maps device events onto topics below a base topic.
type Publisher struct {
	t    Transport
	base string
}

func NewPublisher(t Transport, base string) *Publisher {
	return &Publisher{t: t, base: base}
}

func (p *Publisher) ExposureTopic() string    { return p.base + "/exposure" }
func (p *Publisher) PropertyTopic() string    { return p.base + "/property" }
func (p *Publisher) PropertySetTopic() string { return p.base + "/property/set" }

// PublishExposure implements ccd.Publisher.
func (p *Publisher) PublishExposure(e ccd.Exported) error {
	return p.publishJSON(p.ExposureTopic(), false, e)
}

// PublishProperty sends a property snapshot, retained per property so late
// subscribers see the current value.
func (p *Publisher) PublishProperty(s property.Snapshot) error {
	return p.publishJSON(p.PropertyTopic()+"/"+s.Name, true, s)
}

// PropertyListener adapts PublishProperty to property.Registry.OnChange.
func (p *Publisher) PropertyListener() func(property.Snapshot) {
	return func(s property.Snapshot) {
		if err := p.PublishProperty(s); err != nil {
			log.Warn("publish %s: %v", s.Name, err)
		}
	}
}

type setCommand struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ListenCommands applies {"name","value"} messages received on the
// property/set topic.
func (p *Publisher) ListenCommands(u Updater) error {
	return p.t.Subscribe(p.PropertySetTopic(), 1, func(topic string, payload []byte) {
		var cmd setCommand
		if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Name == "" {
			log.Warn("ignoring malformed command on %s: %q", topic, payload)
			return
		}
		if err := u.Update(cmd.Name, cmd.Value); err != nil {
			log.Warn("set %s=%q: %v", cmd.Name, cmd.Value, err)
			return
		}
		log.Verbose("set %s=%q", cmd.Name, cmd.Value)
	})
}

func (p *Publisher) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if err := p.t.Publish(topic, 1, retained, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	log.Trace("%s <- %s", topic, payload)
	return nil
}
