package fill

import (
	"strings"

	"github.com/openpharma/rxengine/pkg/model"
)

// AuxLabel is one auxiliary warning sticker: a stable code plus the
// patient-facing text.
type AuxLabel struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// labelRule maps drug name keywords to one or more labels. Dosage-form
// and schedule rules are handled directly in AuxiliaryLabels.
type labelRule struct {
	keywords []string
	labels   []AuxLabel
}

var (
	labelCompleteCourse = AuxLabel{Code: "AUX-COURSE", Text: "Take until gone. Complete the entire course of therapy."}
	labelSunlight       = AuxLabel{Code: "AUX-SUN", Text: "May cause sensitivity to sunlight. Avoid prolonged exposure."}
	labelWater          = AuxLabel{Code: "AUX-WATER", Text: "Take with a full glass of water."}
	labelFood           = AuxLabel{Code: "AUX-FOOD", Text: "Take with food or milk."}
	labelDrowsy         = AuxLabel{Code: "AUX-DROWSY", Text: "May cause drowsiness. Use care when driving."}
	labelNoAlcohol      = AuxLabel{Code: "AUX-NOALC", Text: "Do not drink alcohol while taking this medication."}
	labelShakeWell      = AuxLabel{Code: "AUX-SHAKE", Text: "Shake well before using."}
	labelNoCrush        = AuxLabel{Code: "AUX-NOCRUSH", Text: "Do not crush or chew. Swallow whole."}
	labelRefrigerate    = AuxLabel{Code: "AUX-FRIDGE", Text: "Refrigerate. Do not freeze."}
	labelHighAlert      = AuxLabel{Code: "AUX-HIGHALERT", Text: "High alert medication. Verify dose before use."}
	labelTransfer       = AuxLabel{Code: "AUX-CAUTION-CS", Text: "Caution: federal law prohibits the transfer of this drug to any person other than the patient for whom it was prescribed."}
)

// nameRules is evaluated in order; output order is table order, which
// keeps the derived set deterministic.
var nameRules = []labelRule{
	{keywords: []string{"cillin", "cycline", "floxacin", "mycin", "cefdinir", "cephalexin", "cefuroxime", "sulfamethoxazole", "nitrofurantoin"},
		labels: []AuxLabel{labelCompleteCourse}},
	{keywords: []string{"floxacin"},
		labels: []AuxLabel{labelSunlight, labelWater}},
	{keywords: []string{"cycline"},
		labels: []AuxLabel{labelSunlight}},
	{keywords: []string{"ibuprofen", "naproxen", "diclofenac", "meloxicam", "indomethacin", "ketorolac", "aspirin"},
		labels: []AuxLabel{labelFood}},
	{keywords: []string{"oxycodone", "hydrocodone", "morphine", "hydromorphone", "oxymorphone", "codeine", "tramadol", "tapentadol", "fentanyl", "methadone"},
		labels: []AuxLabel{labelDrowsy, labelNoAlcohol}},
	{keywords: []string{"alprazolam", "diazepam", "lorazepam", "clonazepam", "temazepam", "zolpidem"},
		labels: []AuxLabel{labelDrowsy, labelNoAlcohol}},
	{keywords: []string{"insulin"},
		labels: []AuxLabel{labelRefrigerate, labelHighAlert}},
	{keywords: []string{" er", " xr", " xl", " sr", "extended-release", "extended release"},
		labels: []AuxLabel{labelNoCrush}},
}

// AuxiliaryLabels derives the warning sticker set for a drug from name
// keywords, dosage form and DEA schedule. The result is de-duplicated
// and its order is stable for identical inputs.
func AuxiliaryLabels(drug model.Drug) []AuxLabel {
	name := " " + strings.ToLower(drug.GenericName+" "+drug.BrandName) + " "

	var out []AuxLabel
	seen := map[string]bool{}
	add := func(ls ...AuxLabel) {
		for _, l := range ls {
			if !seen[l.Code] {
				seen[l.Code] = true
				out = append(out, l)
			}
		}
	}

	for _, rule := range nameRules {
		for _, kw := range rule.keywords {
			if strings.Contains(name, kw) {
				add(rule.labels...)
				break
			}
		}
	}
	if drug.Form == model.FormSuspension {
		add(labelShakeWell)
	}
	if drug.Schedule.Controlled() {
		add(labelTransfer)
	}
	return out
}

// AuxLabelCodes is the code-only projection stored on the Fill record.
func AuxLabelCodes(labels []AuxLabel) []string {
	codes := make([]string, len(labels))
	for i, l := range labels {
		codes[i] = l.Code
	}
	return codes
}

// LabelText resolves a stored code back to sticker text; unknown codes
// resolve to empty.
func LabelText(code string) string {
	for _, l := range []AuxLabel{
		labelCompleteCourse, labelSunlight, labelWater, labelFood,
		labelDrowsy, labelNoAlcohol, labelShakeWell, labelNoCrush,
		labelRefrigerate, labelHighAlert, labelTransfer,
	} {
		if l.Code == code {
			return l.Text
		}
	}
	return ""
}
