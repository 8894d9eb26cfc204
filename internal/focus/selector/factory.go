package selector

import (
	"fmt"

	"github.com/sebas/conductor/internal/focus/config"
)

// FromConfig builds the strategy named by the configuration node.
func FromConfig(sc config.StrategyConfig, maxStress float64) (Strategy, error) {
	if sc.Kind == config.StrategyVisitor {
		participant, err := simpleStrategy(sc.Participant, maxStress)
		if err != nil {
			return nil, err
		}
		visitor, err := simpleStrategy(sc.Visitor, maxStress)
		if err != nil {
			return nil, err
		}
		return &Visitor{Participant: participant, Visitor: visitor}, nil
	}
	return simpleStrategy(sc.Kind, maxStress)
}

func simpleStrategy(kind config.StrategyKind, maxStress float64) (Strategy, error) {
	switch kind {
	case config.StrategyRegion:
		return &RegionBased{MaxStress: maxStress}, nil
	case config.StrategyIntraRegion:
		return &IntraRegion{MaxStress: maxStress}, nil
	case config.StrategySingle:
		return &Single{}, nil
	case config.StrategySplit:
		return &Split{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", kind)
	}
}
