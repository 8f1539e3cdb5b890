package validation

import (
	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/units"
)

// ValidateTargets checks the individual targets of t against m.
func ValidateTargets(t *treatment.Treatment, m *drugmodel.DrugModel) error {
	if t == nil {
		return ErrNoTreatment
	}
	if m == nil {
		return ErrNoDrugModel
	}

	for _, target := range t.Targets {
		if _, ok := m.ActiveMoiety(target.ActiveMoietyID); !ok {
			return Errorf(KindValidation, nil, "target: unknown active moiety %q", target.ActiveMoietyID)
		}

		var want units.Dimension
		switch target.Type {
		case treatment.TargetResidual, treatment.TargetPeak, treatment.TargetMean:
			want = units.DimensionConcentration
		case treatment.TargetAUC, treatment.TargetAUC24, treatment.TargetCumulativeAUC:
			want = units.DimensionExposure
		default:
			return Errorf(KindValidation, nil, "target %s: unknown target type %q", target.ActiveMoietyID, target.Type)
		}

		dim, err := units.DimensionOf(target.Unit)
		if err != nil {
			return Errorf(KindValidation, err, "target %s %s: %v", target.ActiveMoietyID, target.Type, err)
		}
		if dim != want {
			return Errorf(KindValidation, units.ErrIncompatible, "target %s %s: unit %q is not a %s", target.ActiveMoietyID, target.Type, target.Unit, want)
		}

		if target.Min > target.Best || target.Best > target.Max {
			return Errorf(KindValidation, nil, "target %s %s: expected min <= best <= max, got %s/%s/%s",
				target.ActiveMoietyID, target.Type,
				formatValue(target.Min), formatValue(target.Best), formatValue(target.Max))
		}
	}
	return nil
}
