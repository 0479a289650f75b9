package dur

import "github.com/openpharma/rxengine/pkg/model"

// DefaultDataset is the compiled-in clinical reference bundle. It is
// intentionally conservative; deployments load a curated YAML bundle
// over it.
func DefaultDataset() *Dataset {
	return &Dataset{
		Manifest: Manifest{Name: "builtin", Version: "1.0.0"},

		Interactions: []InteractionEntry{
			{DrugA: "tramadol", DrugB: "sertraline", Severity: model.DURHigh, Code: "DDI-001",
				Effect:         "risk of serotonin syndrome",
				Recommendation: "Consider alternate analgesic; monitor for agitation, hyperthermia, clonus"},
			{DrugA: "tramadol", DrugB: "fluoxetine", Severity: model.DURHigh, Code: "DDI-002",
				Effect:         "risk of serotonin syndrome",
				Recommendation: "Consider alternate analgesic"},
			{DrugA: "warfarin", DrugB: "ibuprofen", Severity: model.DURHigh, Code: "DDI-003",
				Effect:         "increased bleeding risk",
				Recommendation: "Avoid NSAIDs; consider acetaminophen"},
			{DrugA: "warfarin", DrugB: "aspirin", Severity: model.DURHigh, Code: "DDI-004",
				Effect:         "increased bleeding risk",
				Recommendation: "Monitor INR closely"},
			{DrugA: "warfarin", DrugB: "fluconazole", Severity: model.DURHigh, Code: "DDI-005",
				Effect:         "CYP2C9 inhibition raises INR",
				Recommendation: "Reduce warfarin dose; recheck INR in 3-5 days"},
			{DrugA: "oxycodone", DrugB: "alprazolam", Severity: model.DURCritical, Code: "DDI-006",
				Effect:         "opioid-benzodiazepine respiratory depression",
				Recommendation: "Avoid combination; FDA boxed warning"},
			{DrugA: "hydrocodone", DrugB: "diazepam", Severity: model.DURCritical, Code: "DDI-007",
				Effect:         "opioid-benzodiazepine respiratory depression",
				Recommendation: "Avoid combination; FDA boxed warning"},
			{DrugA: "methadone", DrugB: "clonazepam", Severity: model.DURCritical, Code: "DDI-008",
				Effect:         "opioid-benzodiazepine respiratory depression",
				Recommendation: "Avoid combination"},
			{DrugA: "simvastatin", DrugB: "clarithromycin", Severity: model.DURHigh, Code: "DDI-009",
				Effect:         "rhabdomyolysis risk via CYP3A4 inhibition",
				Recommendation: "Hold statin during macrolide course"},
			{DrugA: "lisinopril", DrugB: "spironolactone", Severity: model.DURModerate, Code: "DDI-010",
				Effect:         "hyperkalemia risk",
				Recommendation: "Monitor potassium"},
			{DrugA: "lisinopril", DrugB: "potassium", Severity: model.DURModerate, Code: "DDI-011",
				Effect:         "hyperkalemia risk",
				Recommendation: "Monitor potassium"},
			{DrugA: "metformin", DrugB: "contrast", Severity: model.DURHigh, Code: "DDI-012",
				Effect:         "lactic acidosis risk with iodinated contrast",
				Recommendation: "Hold metformin 48h post-contrast"},
			{DrugA: "digoxin", DrugB: "amiodarone", Severity: model.DURHigh, Code: "DDI-013",
				Effect:         "digoxin toxicity",
				Recommendation: "Halve digoxin dose; monitor levels"},
			{DrugA: "sildenafil", DrugB: "nitroglycerin", Severity: model.DURCritical, Code: "DDI-014",
				Effect:         "profound hypotension",
				Recommendation: "Combination contraindicated"},
			{DrugA: "clopidogrel", DrugB: "omeprazole", Severity: model.DURModerate, Code: "DDI-015",
				Effect:         "reduced antiplatelet effect",
				Recommendation: "Prefer pantoprazole"},
		},

		AllergyClasses: []AllergyClassEntry{
			{Allergen: "penicillin", Severity: model.DURHigh, Code: "ALG-101",
				CrossReactive: []string{"amoxicillin", "ampicillin", "piperacillin", "cephalexin", "cefdinir", "cefuroxime"}},
			{Allergen: "sulfa", Severity: model.DURModerate, Code: "ALG-102",
				CrossReactive: []string{"sulfamethoxazole", "sulfasalazine", "hydrochlorothiazide", "furosemide"}},
			{Allergen: "aspirin", Severity: model.DURModerate, Code: "ALG-103",
				CrossReactive: []string{"ibuprofen", "naproxen", "ketorolac", "meloxicam"}},
			{Allergen: "codeine", Severity: model.DURModerate, Code: "ALG-104",
				CrossReactive: []string{"hydrocodone", "oxycodone", "morphine", "hydromorphone"}},
			{Allergen: "latex", Severity: model.DURLow, Code: "ALG-105", CrossReactive: []string{}},
		},

		Contraindications: []ContraindicationEntry{
			{Drug: "metformin", Condition: "severe renal impairment", Severity: model.DURHigh, Code: "CI-201",
				Message: "Metformin contraindicated in severe renal impairment", Alternatives: []string{"insulin", "linagliptin"}},
			{Drug: "nitrofurantoin", Condition: "renal impairment", Severity: model.DURHigh, Code: "CI-202",
				Message: "Ineffective and toxic at low CrCl", Alternatives: []string{"cephalexin", "fosfomycin"}},
			{Drug: "propranolol", Condition: "asthma", Severity: model.DURHigh, Code: "CI-203",
				Message: "Non-selective beta blockade may trigger bronchospasm", Alternatives: []string{"metoprolol", "atenolol"}},
			{Drug: "ibuprofen", Condition: "peptic ulcer", Severity: model.DURHigh, Code: "CI-204",
				Message: "NSAID with active peptic ulcer disease", Alternatives: []string{"acetaminophen"}},
			{Drug: "bupropion", Condition: "seizure disorder", Severity: model.DURHigh, Code: "CI-205",
				Message: "Lowers seizure threshold", Alternatives: []string{"sertraline", "escitalopram"}},
		},

		Pediatric: []PediatricEntry{
			{Drug: "ciprofloxacin", MinAge: 18, Severity: model.DURHigh, Code: "AGE-301",
				Message: "Fluoroquinolones restricted under 18: tendon and cartilage risk"},
			{Drug: "levofloxacin", MinAge: 18, Severity: model.DURHigh, Code: "AGE-302",
				Message: "Fluoroquinolones restricted under 18: tendon and cartilage risk"},
			{Drug: "tetracycline", MinAge: 8, Severity: model.DURHigh, Code: "AGE-303",
				Message: "Tetracyclines under 8: permanent tooth discoloration"},
			{Drug: "doxycycline", MinAge: 8, Severity: model.DURHigh, Code: "AGE-304",
				Message: "Tetracyclines under 8: permanent tooth discoloration"},
			{Drug: "aspirin", MinAge: 16, Severity: model.DURHigh, Code: "AGE-305",
				Message: "Aspirin under 16 with viral illness: Reye's syndrome risk",
				RequiresCondition: "viral illness"},
			{Drug: "promethazine", MinAge: 2, Severity: model.DURCritical, Code: "AGE-306",
				Message: "Promethazine under 2: fatal respiratory depression"},
		},

		BeersList: []string{
			"diphenhydramine", "amitriptyline", "cyclobenzaprine", "glyburide",
			"diazepam", "alprazolam", "zolpidem", "indomethacin", "meperidine",
		},

		FallRisk: []string{
			"zolpidem", "lorazepam", "alprazolam", "diazepam", "trazodone",
			"oxycodone", "hydrocodone", "gabapentin", "amitriptyline",
		},

		Renal: []RenalEntry{
			{Drug: "metformin", MinCrCl: 30, Severity: model.DURHigh, Code: "REN-401",
				Message: "Metformin contraindicated below CrCl 30"},
			{Drug: "nitrofurantoin", MinCrCl: 30, Severity: model.DURHigh, Code: "REN-402",
				Message: "Nitrofurantoin ineffective below CrCl 30"},
			{Drug: "gabapentin", MinCrCl: 60, Severity: model.DURModerate, Code: "REN-403",
				Message: "Reduce gabapentin dose below CrCl 60"},
			{Drug: "enoxaparin", MinCrCl: 30, Severity: model.DURHigh, Code: "REN-404",
				Message: "Reduce enoxaparin dose below CrCl 30"},
			{Drug: "apixaban", MinCrCl: 25, Severity: model.DURModerate, Code: "REN-405",
				Message: "Dose adjustment below CrCl 25"},
		},

		Hepatic: []HepaticEntry{
			{Drug: "acetaminophen", Code: "HEP-501"},
			{Drug: "methotrexate", Code: "HEP-502"},
			{Drug: "simvastatin", Code: "HEP-503"},
			{Drug: "valproate", Code: "HEP-504"},
			{Drug: "duloxetine", Code: "HEP-505"},
		},

		PregnancyX: []string{
			"isotretinoin", "warfarin", "methotrexate", "thalidomide",
			"finasteride", "atorvastatin", "simvastatin", "misoprostol",
		},
		PregnancyD: []string{
			"lisinopril", "losartan", "valproate", "phenytoin",
			"lithium", "doxycycline", "paroxetine",
		},
		NursingAvoid: []string{
			"codeine", "tramadol", "lithium", "methotrexate", "amiodarone",
		},

		Monitoring: []MonitoringEntry{
			{Drug: "warfarin", Parameters: []string{"INR"}, Frequency: "weekly until stable, then monthly", Code: "MON-601"},
			{Drug: "lithium", Parameters: []string{"lithium level", "TSH", "creatinine"}, Frequency: "every 3-6 months", Code: "MON-602"},
			{Drug: "methotrexate", Parameters: []string{"CBC", "LFTs", "creatinine"}, Frequency: "every 4-8 weeks", Code: "MON-603"},
			{Drug: "amiodarone", Parameters: []string{"TSH", "LFTs", "chest x-ray"}, Frequency: "every 6 months", Code: "MON-604"},
			{Drug: "clozapine", Parameters: []string{"ANC"}, Frequency: "weekly for 6 months", Code: "MON-605"},
			{Drug: "digoxin", Parameters: []string{"digoxin level", "potassium"}, Frequency: "annually and with dose changes", Code: "MON-606"},
		},

		MMEFactors: []MMEFactorEntry{
			{Drug: "morphine", Factor: 1},
			{Drug: "oxycodone", Factor: 1.5},
			{Drug: "hydrocodone", Factor: 1},
			{Drug: "hydromorphone", Factor: 5},
			{Drug: "oxymorphone", Factor: 3},
			{Drug: "codeine", Factor: 0.15},
			{Drug: "tramadol", Factor: 0.2},
			{Drug: "tapentadol", Factor: 0.4},
			{Drug: "fentanyl", Factor: 7.2},
		},

		OverrideCodes: []string{"M0", "P0", "1A", "2A", "3A", "4A", "5A", "6A", "7A", "99"},
	}
}
