package service

import "time"

// SetClock pins "now" for tests.
func (s *LedgerService) SetClock(now func() time.Time)         { s.clock = now }
func (s *ReceptionService) SetClock(now func() time.Time)      { s.clock = now }
func (s *ReconciliationService) SetClock(now func() time.Time) { s.clock = now }
func (s *RotationService) SetClock(now func() time.Time)       { s.clock = now }
func (s *RiskService) SetClock(now func() time.Time)           { s.clock = now }
func (s *AlertScanner) SetClock(now func() time.Time)          { s.clock = now }
