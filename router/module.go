package router

import (
	"fmt"
	"strings"
)

// Module is one of the fixed catalogue of business-rule handlers.
type Module uint8

const (
	Arachnid   Module = iota + 1 // fraud and anomaly detection
	Chameleon                    // dynamic pricing
	Cephalopod                   // logistics routing
	AntColony                    // inventory and resource distribution
	Tardigrade                   // system health
	Mycelium                     // inter-module coordination
	Swarm                        // demand forecasting and fulfilment batching

	moduleCount = int(Swarm)
)

var moduleNames = [moduleCount + 1]string{
	"",
	"arachnid",
	"chameleon",
	"cephalopod",
	"ant_colony",
	"tardigrade",
	"mycelium",
	"swarm",
}

// Modules lists the catalogue in declaration order.
func Modules() []Module {
	out := make([]Module, 0, moduleCount)
	for m := Arachnid; int(m) <= moduleCount; m++ {
		out = append(out, m)
	}
	return out
}

func ParseModule(name string) (Module, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i := 1; i <= moduleCount; i++ {
		if moduleNames[i] == name {
			return Module(i), nil
		}
	}
	return 0, fmt.Errorf("unknown module %q", name)
}

func (m Module) Valid() bool {
	return m >= Arachnid && int(m) <= moduleCount
}

func (m Module) String() string {
	if !m.Valid() {
		return fmt.Sprintf("module(%d)", uint8(m))
	}
	return moduleNames[m]
}

func (m Module) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid module %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *Module) UnmarshalText(text []byte) error {
	parsed, err := ParseModule(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
