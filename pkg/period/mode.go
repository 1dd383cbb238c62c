package period

// Mode is the processing mode handed to the pipeline as --season.
//
// The orchestrator assigns no meaning to it beyond passing it through.
type Mode string

const (
	Summer Mode = "summer"
	Winter Mode = "winter"
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	return string(m)
}

// Classify maps a period to its processing mode by month alone.
// December, January and February are Winter; every other month is Summer.
func Classify(p Period) Mode {
	switch p.Month {
	case 12, 1, 2:
		return Winter
	default:
		return Summer
	}
}
