package query

import "encoding/xml"

// queryFile is the XML root of a computation query.
type queryFile struct {
	XMLName       xml.Name           `xml:"query"`
	Version       string             `xml:"version,attr"`
	QueryID       string             `xml:"queryId,attr"`
	Date          string             `xml:"date,attr"`
	Language      string             `xml:"language,attr"`
	Admin         *adminNode         `xml:"admin"`
	DrugTreatment *drugTreatmentNode `xml:"drugTreatment"`
	Requests      []requestNode      `xml:"requests>xpertRequest"`
}

type adminNode struct {
	Mandator  *personNode `xml:"mandator>person"`
	Patient   *personNode `xml:"patient>person"`
	Institute string      `xml:"mandator>institute>name"`
}

type personNode struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	FirstName string `xml:"firstName"`
	LastName  string `xml:"lastName"`
}

type drugTreatmentNode struct {
	Covariates []covariateNode `xml:"patient>covariates>covariate"`
	Drugs      []drugNode      `xml:"drugs>drug"`
}

type covariateNode struct {
	ID       string `xml:"covariateId"`
	Date     string `xml:"date"`
	Value    string `xml:"value"`
	Unit     string `xml:"unit"`
	DataType string `xml:"dataType"`
}

type drugNode struct {
	DrugID          string          `xml:"drugId"`
	ActivePrinciple string          `xml:"activePrinciple"`
	BrandName       string          `xml:"brandName"`
	ATC             string          `xml:"atc"`
	TimeRanges      []timeRangeNode `xml:"treatment>dosageHistory>dosageTimeRange"`
	Samples         []sampleNode    `xml:"samples>sample"`
	Targets         []targetNode    `xml:"targets>target"`
}

type timeRangeNode struct {
	Start  string      `xml:"start"`
	End    string      `xml:"end"`
	Dosage dosageGroup `xml:"dosage"`
}

type sampleNode struct {
	ID             string              `xml:"sampleId"`
	Date           string              `xml:"sampleDate"`
	Concentrations []concentrationNode `xml:"concentrations>concentration"`
}

type concentrationNode struct {
	AnalyteID string  `xml:"analyteId"`
	Value     float64 `xml:"value"`
	Unit      string  `xml:"unit"`
}

type targetNode struct {
	ActiveMoietyID  string  `xml:"activeMoietyId"`
	TargetType      string  `xml:"targetType"`
	Unit            string  `xml:"unit"`
	InefficacyAlarm float64 `xml:"inefficacyAlarm"`
	Min             float64 `xml:"min"`
	Best            float64 `xml:"best"`
	Max             float64 `xml:"max"`
	ToxicityAlarm   float64 `xml:"toxicityAlarm"`
}

type requestNode struct {
	RequestID      string      `xml:"requestId"`
	DrugID         string      `xml:"drugId"`
	Format         string      `xml:"output>format"`
	Language       string      `xml:"output>language"`
	AdjustmentDate string      `xml:"adjustmentDate"`
	Options        optionsNode `xml:"options"`
}

type optionsNode struct {
	Loading                      string `xml:"loadingOption"`
	RestPeriod                   string `xml:"restPeriodOption"`
	TargetExtraction             string `xml:"targetExtractionOption"`
	FormulationAndRouteSelection string `xml:"formulationAndRouteSelectionOption"`
}

// dosageGroup collects dosage elements in document order.
type dosageGroup struct {
	Children []dosageElement `xml:",any"`
}

type repeatNode struct {
	Iterations int             `xml:"iterations"`
	Children   []dosageElement `xml:",any"`
}

type parallelNode struct {
	Offsets  []string        `xml:"offsets>offset"`
	Children []dosageElement `xml:",any"`
}

type doseNode struct {
	Value    float64 `xml:"value"`
	Unit     string  `xml:"unit"`
	Infusion float64 `xml:"infusionTimeInMinutes"`
}

type formulationAndRouteNode struct {
	Formulation        string `xml:"formulation"`
	AdministrationName string `xml:"administrationName"`
	Route              string `xml:"administrationRoute"`
	AbsorptionModel    string `xml:"absorptionModel"`
}

type singleDoseNode struct {
	Interval            string                  `xml:"interval"`
	Time                string                  `xml:"time"`
	Day                 int                     `xml:"day"`
	Dose                doseNode                `xml:"dose"`
	FormulationAndRoute formulationAndRouteNode `xml:"formulationAndRoute"`
}

// dosageElement is one node of a dosage tree. Exactly one field is set,
// selected by the element name.
type dosageElement struct {
	Name     string
	Loop     *dosageGroup
	Sequence *dosageGroup
	Repeat   *repeatNode
	Parallel *parallelNode
	Single   *singleDoseNode
}

const (
	elemLoop     = "dosageLoop"
	elemRepeat   = "dosageRepeat"
	elemSequence = "dosageSequence"
	elemParallel = "parallelDosageSequence"
	elemLasting  = "lastingDosage"
	elemDaily    = "dailyDosage"
	elemWeekly   = "weeklyDosage"
)

func (e *dosageElement) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	e.Name = start.Name.Local
	switch e.Name {
	case elemLoop:
		e.Loop = &dosageGroup{}
		return d.DecodeElement(e.Loop, &start)
	case elemSequence:
		e.Sequence = &dosageGroup{}
		return d.DecodeElement(e.Sequence, &start)
	case elemRepeat:
		e.Repeat = &repeatNode{}
		return d.DecodeElement(e.Repeat, &start)
	case elemParallel:
		e.Parallel = &parallelNode{}
		return d.DecodeElement(e.Parallel, &start)
	case elemLasting, elemDaily, elemWeekly:
		e.Single = &singleDoseNode{}
		return d.DecodeElement(e.Single, &start)
	default:
		// Rejected when the treatment is extracted.
		return d.Skip()
	}
}

// resultFile is the XML root of an exported request result.
type resultFile struct {
	XMLName        xml.Name        `xml:"tdmResult"`
	QueryID        string          `xml:"queryId,attr"`
	RequestID      string          `xml:"requestId,attr"`
	Date           string          `xml:"date,attr"`
	DrugID         string          `xml:"drugId"`
	DrugModelID    string          `xml:"drugModelId,omitempty"`
	Status         string          `xml:"status"`
	Error          string          `xml:"error,omitempty"`
	DoseWarnings   []warningNode   `xml:"doseWarnings>dose,omitempty"`
	SampleWarnings []warningNode   `xml:"sampleWarnings>sample,omitempty"`
	Covariates     []string        `xml:"covariateWarnings>warning,omitempty"`
	Trait          *traitNode      `xml:"adjustmentTrait,omitempty"`
	Candidates     []candidateNode `xml:"adjustments>adjustment,omitempty"`
}

type warningNode struct {
	ID      string `xml:"id,attr"`
	Warning string `xml:",chardata"`
}

type traitNode struct {
	PredictionType               string `xml:"predictionType"`
	AdjustmentTime               string `xml:"adjustmentDate"`
	Start                        string `xml:"start"`
	End                          string `xml:"end"`
	PointsPerHour                int    `xml:"nbPointsPerHour"`
	Loading                      string `xml:"loadingOption"`
	RestPeriod                   string `xml:"restPeriodOption"`
	SteadyStateTarget            string `xml:"steadyStateTargetOption"`
	TargetExtraction             string `xml:"targetExtractionOption"`
	FormulationAndRouteSelection string `xml:"formulationAndRouteSelectionOption"`
	BestCandidates               string `xml:"bestCandidatesOption"`
}

type candidateNode struct {
	Score               float64                 `xml:"score"`
	Dose                float64                 `xml:"dose>value"`
	Unit                string                  `xml:"dose>unit"`
	Interval            string                  `xml:"interval"`
	FormulationAndRoute formulationAndRouteNode `xml:"formulationAndRoute"`
	Targets             []targetEvaluationNode  `xml:"targetEvaluations>targetEvaluation"`
}

type targetEvaluationNode struct {
	TargetType string  `xml:"targetType"`
	Value      float64 `xml:"value"`
	Unit       string  `xml:"unit"`
	Score      float64 `xml:"score"`
}
