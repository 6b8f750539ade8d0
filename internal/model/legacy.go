package model

import "encoding/json"

// Persisted assessments from before the AnalysisContext rename still call
// contexts "distinct proceedings" and the per-evidence annotation
// "proceedingId". Reads accept either name; writes always emit the
// canonical one.

type evidenceItemAlias EvidenceItem

// UnmarshalJSON accepts the legacy "proceedingId" alias for ContextID.
func (e *EvidenceItem) UnmarshalJSON(data []byte) error {
	aux := struct {
		*evidenceItemAlias
		LegacyProceedingID string `json:"proceedingId"`
	}{evidenceItemAlias: (*evidenceItemAlias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if e.ContextID == "" && aux.LegacyProceedingID != "" {
		e.ContextID = aux.LegacyProceedingID
	}
	return nil
}

type overallAssessmentAlias OverallAssessment

// UnmarshalJSON accepts the legacy "distinctProceedings" alias for
// ClaimBoundaries.
func (a *OverallAssessment) UnmarshalJSON(data []byte) error {
	aux := struct {
		*overallAssessmentAlias
		LegacyProceedings []AnalysisContext `json:"distinctProceedings"`
	}{overallAssessmentAlias: (*overallAssessmentAlias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(a.ClaimBoundaries) == 0 && len(aux.LegacyProceedings) > 0 {
		a.ClaimBoundaries = aux.LegacyProceedings
	}
	return nil
}
