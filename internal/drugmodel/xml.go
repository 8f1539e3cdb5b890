package drugmodel

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/internal/units"
)

// File is the XML root of a drug-model file.
type File struct {
	XMLName   xml.Name      `xml:"model"`
	Version   string        `xml:"version,attr,omitempty"`
	DrugModel DrugModelNode `xml:"drugModel"`
}

// DrugModelNode is the <drugModel> element.
type DrugModelNode struct {
	DrugID         string             `xml:"drugId"`
	DrugModelID    string             `xml:"drugModelId"`
	ActiveMoieties []ActiveMoietyNode `xml:"activeMoieties>activeMoiety"`
	Analytes       []AnalyteNode      `xml:"analytes>analyte"`
	Covariates     []CovariateNode    `xml:"covariates>covariate"`
	HalfLife       HalfLifeNode       `xml:"timeConsiderations>halfLife"`
	Dosages        DosagesNode        `xml:"dosages"`
}

// ActiveMoietyNode is an <activeMoiety> element.
type ActiveMoietyNode struct {
	ID         string       `xml:"activeMoietyId"`
	Unit       string       `xml:"unit"`
	AnalyteIDs []string     `xml:"analyteIdList>analyteId"`
	Targets    []TargetNode `xml:"targets>target"`
}

// TargetNode is a default <target> of an active moiety.
type TargetNode struct {
	Type            string  `xml:"targetType"`
	Unit            string  `xml:"unit"`
	InefficacyAlarm float64 `xml:"inefficacyAlarm"`
	Min             float64 `xml:"min"`
	Best            float64 `xml:"best"`
	Max             float64 `xml:"max"`
	ToxicityAlarm   float64 `xml:"toxicityAlarm"`
}

// AnalyteNode is an <analyte> element.
type AnalyteNode struct {
	ID   string `xml:"analyteId"`
	Unit string `xml:"unit"`
}

// CovariateNode is a <covariate> definition.
type CovariateNode struct {
	ID           string          `xml:"covariateId"`
	Unit         string          `xml:"unit"`
	DataType     string          `xml:"dataType"`
	DefaultValue string          `xml:"defaultValue"`
	Validation   *ValidationNode `xml:"validation,omitempty"`
}

// ValidationNode bounds a covariate.
type ValidationNode struct {
	Min            string `xml:"min"`
	Max            string `xml:"max"`
	ConstraintType string `xml:"constraintType"`
}

// HalfLifeNode is the <halfLife> element.
type HalfLifeNode struct {
	Unit       string  `xml:"unit"`
	Value      float64 `xml:"value"`
	Multiplier float64 `xml:"multiplier"`
}

// TimeValueNode is a value with a time unit.
type TimeValueNode struct {
	Unit  string  `xml:"unit"`
	Value float64 `xml:"value"`
}

// DosagesNode is the <dosages> element.
type DosagesNode struct {
	StandardTreatment      *StandardTreatmentNode   `xml:"standardTreatment,omitempty"`
	LoadingDoseRecommended bool                     `xml:"loadingDoseRecommended"`
	RestPeriodRecommended  bool                     `xml:"restPeriodRecommended"`
	FormulationAndRoutes   FormulationAndRoutesNode `xml:"formulationAndRoutes"`
}

// StandardTreatmentNode is the <standardTreatment> element.
type StandardTreatmentNode struct {
	IsFixedDuration bool          `xml:"isFixedDuration"`
	TimeValue       TimeValueNode `xml:"timeValue"`
}

// FormulationAndRoutesNode lists the formulary.
type FormulationAndRoutesNode struct {
	Default string                    `xml:"default,attr"`
	Entries []FormulationAndRouteNode `xml:"formulationAndRoute"`
}

// FormulationAndRouteNode is one formulary entry.
type FormulationAndRouteNode struct {
	ID                  string         `xml:"formulationAndRouteId"`
	Formulation         string         `xml:"formulation"`
	AdministrationName  string         `xml:"administrationName"`
	AdministrationRoute string         `xml:"administrationRoute"`
	AbsorptionModel     string         `xml:"absorptionModel"`
	AvailableDoses      AvailableDoses `xml:"dosages>availableDoses"`
	Intervals           IntervalsNode  `xml:"dosages>intervals"`
}

// AvailableDoses is the recommended dose range.
type AvailableDoses struct {
	Unit    string  `xml:"unit"`
	Default float64 `xml:"default"`
	From    float64 `xml:"rangeValues>from"`
	To      float64 `xml:"rangeValues>to"`
}

// IntervalsNode lists recommended intervals as space separated values.
type IntervalsNode struct {
	Unit    string `xml:"unit"`
	Default string `xml:"default"`
	Values  string `xml:"values"`
}

// ParseError reports a drug-model file that cannot be used.
type ParseError struct {
	Source  string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("drug model %s: %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("drug model %s: %s", e.Source, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Parse reads one drug model from r. source names the origin in errors.
func Parse(r io.Reader, source string) (*DrugModel, error) {
	var f File
	if err := xml.NewDecoder(r).Decode(&f); err != nil {
		return nil, &ParseError{Source: source, Message: "malformed XML", Cause: err}
	}
	return f.DrugModel.toModel(source)
}

func (n *DrugModelNode) toModel(source string) (*DrugModel, error) {
	if n.DrugID == "" || n.DrugModelID == "" {
		return nil, &ParseError{Source: source, Message: "drugId and drugModelId are required"}
	}

	m := &DrugModel{
		ID:                     strings.TrimSpace(n.DrugModelID),
		DrugID:                 strings.TrimSpace(n.DrugID),
		LoadingDoseRecommended: n.Dosages.LoadingDoseRecommended,
		RestPeriodRecommended:  n.Dosages.RestPeriodRecommended,
		DefaultFormularyID:     n.Dosages.FormulationAndRoutes.Default,
		HalfLife: HalfLife{
			Value:      n.HalfLife.Value,
			Unit:       n.HalfLife.Unit,
			Multiplier: n.HalfLife.Multiplier,
		},
	}

	hl, err := toDuration(n.HalfLife.Value, n.HalfLife.Unit)
	if err != nil {
		return nil, &ParseError{Source: source, Message: "invalid half-life", Cause: err}
	}
	if hl <= 0 {
		return nil, &ParseError{Source: source, Message: "half-life must be positive"}
	}
	m.HalfLifeDuration = hl

	if st := n.Dosages.StandardTreatment; st != nil {
		d, err := toDuration(st.TimeValue.Value, st.TimeValue.Unit)
		if err != nil {
			return nil, &ParseError{Source: source, Message: "invalid standard treatment duration", Cause: err}
		}
		m.StandardTreatment = &StandardTreatment{IsFixedDuration: st.IsFixedDuration, Duration: d}
	}

	for _, am := range n.ActiveMoieties {
		moiety := ActiveMoiety{ID: am.ID, Unit: am.Unit, AnalyteIDs: am.AnalyteIDs}
		for _, t := range am.Targets {
			moiety.Targets = append(moiety.Targets, treatment.Target{
				ActiveMoietyID:  am.ID,
				Type:            treatment.TargetType(t.Type),
				Unit:            t.Unit,
				InefficacyAlarm: t.InefficacyAlarm,
				Min:             t.Min,
				Best:            t.Best,
				Max:             t.Max,
				ToxicityAlarm:   t.ToxicityAlarm,
			})
		}
		m.ActiveMoieties = append(m.ActiveMoieties, moiety)
	}

	for _, a := range n.Analytes {
		m.Analytes = append(m.Analytes, Analyte{ID: a.ID, Unit: a.Unit})
	}

	for _, c := range n.Covariates {
		def := CovariateDefinition{ID: c.ID, Unit: c.Unit, DataType: c.DataType, DefaultValue: c.DefaultValue}
		if c.Validation != nil {
			vr, err := c.Validation.toRange()
			if err != nil {
				return nil, &ParseError{Source: source, Message: "invalid validation of covariate " + c.ID, Cause: err}
			}
			def.Validation = vr
		}
		m.Covariates = append(m.Covariates, def)
	}

	for _, fr := range n.Dosages.FormulationAndRoutes.Entries {
		entry := FormularyEntry{
			ID: fr.ID,
			FormulationAndRoute: treatment.FormulationAndRoute{
				Formulation:        fr.Formulation,
				AdministrationName: fr.AdministrationName,
				Route:              fr.AdministrationRoute,
				AbsorptionModel:    fr.AbsorptionModel,
			},
			DoseUnit:    fr.AvailableDoses.Unit,
			MinDose:     fr.AvailableDoses.From,
			MaxDose:     fr.AvailableDoses.To,
			DefaultDose: fr.AvailableDoses.Default,
		}
		if entry.MinDose > entry.MaxDose {
			return nil, &ParseError{Source: source, Message: "dose range of " + fr.ID + " is inverted"}
		}
		for _, v := range strings.Fields(fr.Intervals.Values) {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, &ParseError{Source: source, Message: "invalid interval of " + fr.ID, Cause: err}
			}
			d, err := toDuration(f, fr.Intervals.Unit)
			if err != nil {
				return nil, &ParseError{Source: source, Message: "invalid interval unit of " + fr.ID, Cause: err}
			}
			entry.Intervals = append(entry.Intervals, d)
		}
		m.Formulary = append(m.Formulary, entry)
	}
	if len(m.Formulary) == 0 {
		return nil, &ParseError{Source: source, Message: "no formulation and route defined"}
	}

	return m, nil
}

func (v *ValidationNode) toRange() (*ValidRange, error) {
	vr := &ValidRange{Type: ConstraintType(v.ConstraintType)}
	if vr.Type == "" {
		vr.Type = ConstraintHard
	}
	if s := strings.TrimSpace(v.Min); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		vr.Min = &f
	}
	if s := strings.TrimSpace(v.Max); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		vr.Max = &f
	}
	return vr, nil
}

// toDuration converts a time value expressed in unit into a duration.
func toDuration(value float64, unit string) (time.Duration, error) {
	hours, err := units.Convert(value, unit, "h")
	if err != nil {
		return 0, err
	}
	return time.Duration(hours * float64(time.Hour)), nil
}
