package monitor

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/sleeplog/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DescribeProfile lists every service and its characteristics in discovery order,
// with SIG names where known. Keys are service labels, values characteristic labels.
func DescribeProfile(p *device.Profile) *orderedmap.OrderedMap[string, []string] {
	out := orderedmap.New[string, []string]()
	if p == nil {
		return out
	}

	for _, svc := range p.Services {
		chars := make([]string, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			chars = append(chars, fmt.Sprintf("%s [%s]", label(c.UUID, c.KnownName()), c.Property))
		}
		out.Set(label(svc.UUID, svc.KnownName()), chars)
	}
	return out
}

func label(uuid, name string) string {
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s (%s)", device.NormalizeUUID(uuid), name)
}

func (m *Monitor) logProfile(p *device.Profile) {
	desc := DescribeProfile(p)
	m.logger.WithField("services", desc.Len()).Info("Discovered GATT profile")

	for pair := desc.Oldest(); pair != nil; pair = pair.Next() {
		m.logger.WithField("service", pair.Key).Debug("Service")
		for _, c := range pair.Value {
			m.logger.WithFields(logrus.Fields{
				"service":        pair.Key,
				"characteristic": c,
			}).Debug("Characteristic")
		}
	}
}
