package protocol

// Corrector may adjust a decoded record in place before it is attributed.
// It returns true when it changed the record.
type Corrector interface {
	Correct(rec *DamageRecord) bool
	Name() string
}

// SmallAmountCorrector replaces amounts in [Min, Max] with the unknown
// varint read just before the damage field. Tiny amounts are usually a
// continuation byte read one field too late.
type SmallAmountCorrector struct {
	Min int64
	Max int64
}

// NewSmallAmountCorrector returns the corrector for amounts 1 through 4.
func NewSmallAmountCorrector() *SmallAmountCorrector {
	return &SmallAmountCorrector{Min: 1, Max: 4}
}

func (c *SmallAmountCorrector) Name() string {
	return "small_amount"
}

func (c *SmallAmountCorrector) Correct(rec *DamageRecord) bool {
	if rec == nil || rec.Amount < c.Min || rec.Amount > c.Max {
		return false
	}
	if rec.UnknownValue <= 0 {
		return false
	}
	rec.OriginalAmount = rec.Amount
	rec.Amount = rec.UnknownValue
	rec.Corrected = true
	return true
}

// CorrectorChain applies correctors in order and stops at the first one
// that changes the record, so a record is overwritten at most once.
type CorrectorChain []Corrector

func (c CorrectorChain) Name() string {
	return "chain"
}

func (c CorrectorChain) Correct(rec *DamageRecord) bool {
	for _, corrector := range c {
		if corrector.Correct(rec) {
			return true
		}
	}
	return false
}
