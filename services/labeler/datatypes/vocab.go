// Copyright (C) 2025 Glaucoma and Data Science Laboratory
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Supported modalities and eyes.
var (
	Modalities = []string{"VF", "OCT"}
	Eyes       = []string{"OD", "OS"}
)

// Progression status options (per-modality progression judgment).
const (
	StatusProgressed    = "Progressed"
	StatusNotProgressed = "Not Progressed"
)

// Fixed vocabularies per label field. An empty string is always legal
// ("not assessed"); anything else must be a member of the field's set.
var (
	NormalityValues   = []string{"Normal", "Abnormal"}
	ReliabilityValues = []string{"Reliable", "Unreliable"}

	// Glaucomatous defect patterns and their hemifield positions.
	GlaucomaDefectValues = []string{
		"Nasal Step", "Arcuate", "Partial Arcuate", "Paracentral",
		"Altitudinal", "Generalized Depression", "Temporal Wedge",
	}
	DefectPositionValues = []string{"Superior", "Inferior"}

	// Non-glaucomatous defect patterns.
	NonGlaucomaDefectValues = []string{
		"Cloverleaf", "Homonymous", "Bitemporal", "Quadrantanopia",
		"Central Scotoma", "Enlarged Blind Spot", "Constriction",
	}

	ArtifactValues = []string{
		"Lens Rim", "Eyelid", "Ptosis", "Fatigue", "Trigger Happy",
		"Fixation Loss", "Learning Effect",
	}
)

func inVocab(value string, vocab []string) bool {
	if value == "" {
		return true
	}
	for _, v := range vocab {
		if v == value {
			return true
		}
	}
	return false
}

// labelSetStructLevel enforces the per-field vocabularies on a LabelSet.
// Registered as a struct-level validation because the values contain
// spaces, which rules out the builtin oneof tag.
func labelSetStructLevel(sl validator.StructLevel) {
	ls := sl.Current().Interface().(LabelSet)

	check := func(field, value string, vocab []string) {
		if !inVocab(value, vocab) {
			sl.ReportError(value, field, field, "vocab", "")
		}
	}

	check("Normality", ls.Normality, NormalityValues)
	check("Reliability", ls.Reliability, ReliabilityValues)
	check("GDefect1", ls.GDefect1, GlaucomaDefectValues)
	check("GDefect2", ls.GDefect2, GlaucomaDefectValues)
	check("GDefect3", ls.GDefect3, GlaucomaDefectValues)
	check("GPosition1", ls.GPosition1, DefectPositionValues)
	check("GPosition2", ls.GPosition2, DefectPositionValues)
	check("GPosition3", ls.GPosition3, DefectPositionValues)
	check("NGDefect1", ls.NGDefect1, NonGlaucomaDefectValues)
	check("NGDefect2", ls.NGDefect2, NonGlaucomaDefectValues)
	check("NGDefect3", ls.NGDefect3, NonGlaucomaDefectValues)
	check("NGPosition1", ls.NGPosition1, DefectPositionValues)
	check("NGPosition2", ls.NGPosition2, DefectPositionValues)
	check("NGPosition3", ls.NGPosition3, DefectPositionValues)
	check("Artifact1", ls.Artifact1, ArtifactValues)
	check("Artifact2", ls.Artifact2, ArtifactValues)
}

// labelValidator is shared; validator.Validate is thread-safe.
var labelValidator = newLabelValidator()

func newLabelValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(labelSetStructLevel, LabelSet{})
	return v
}

// ValidateLabels checks every label value against its field's vocabulary.
// Returns a descriptive error naming the first offending field.
func ValidateLabels(ls LabelSet) error {
	if err := labelValidator.Struct(ls); err != nil {
		var verrs validator.ValidationErrors
		if ok := AsValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			return fmt.Errorf("label field %s has value outside its vocabulary", verrs[0].Field())
		}
		return err
	}
	return nil
}

// AsValidationErrors unwraps a validator.ValidationErrors from err.
func AsValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
