package models

import "fmt"

// Validate checks the record invariants enforced at the store boundary.
func (p *Plant) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: plant id is required", ErrValidation)
	}
	if p.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}
	for i := range p.Diseases {
		if err := p.Diseases[i].Validate(); err != nil {
			return fmt.Errorf("disease %d: %w", i, err)
		}
	}
	if p.CarePlan != nil && len(p.CarePlan.Days) != PlanDays {
		return fmt.Errorf("%w: care plan has %d days, want %d", ErrValidation, len(p.CarePlan.Days), PlanDays)
	}
	return nil
}

// Validate checks the score range and the resolved/zero-score equivalence.
func (d *DiseaseRecord) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: disease name is required", ErrValidation)
	}
	if d.SeverityScore < 0 || d.SeverityScore > 10 {
		return fmt.Errorf("%w: severity score %d outside [0,10]", ErrValidation, d.SeverityScore)
	}
	if (d.SeverityScore == 0) != (d.Status == DiseaseResolved) {
		return fmt.Errorf("%w: severity score %d inconsistent with status %s", ErrValidation, d.SeverityScore, d.Status)
	}
	return nil
}
