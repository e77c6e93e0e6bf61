package resource

import (
	"fmt"

	"github.com/socpm/pmres/internal/domain"
)

// latencyController forwards a wakeup-latency bound to the QoS service
// under the resource's name. added tracks the registration so the QoS
// service never sees a duplicate add.
type latencyController struct {
	fw    *Framework
	added bool
}

func (c *latencyController) Init(r *Resource) error {
	r.users = nil
	r.level = domain.NoConstraint
	c.added = false
	return nil
}

// SetLevel commits the level before talking to the QoS service; a failed
// add or update leaves the committed level in place. Deregistration always
// succeeds: a failed remove is logged and the registration forgotten.
func (c *latencyController) SetLevel(r *Resource, latency domain.Level) (domain.Outcome, error) {
	if r.level == latency {
		return domain.Unchanged, nil
	}
	r.level = latency

	qos := c.fw.platform.QoS
	if latency == domain.NoConstraint && c.added {
		c.added = false
		if err := qos.Remove(r.name); err != nil {
			c.fw.log.Error(err, "remove constraint failed, ignoring", "resource", r.name)
		}
		return domain.Changed, nil
	}

	if c.added {
		if err := qos.Update(r.name, latency); err != nil {
			return domain.Failed, fmt.Errorf("%s: update constraint: %w", r.name, err)
		}
		return domain.Changed, nil
	}
	c.added = true
	if err := qos.Add(r.name, latency); err != nil {
		return domain.Failed, fmt.Errorf("%s: add constraint: %w", r.name, err)
	}
	return domain.Changed, nil
}

func (c *latencyController) Validate(*Resource, domain.Level) error { return nil }
