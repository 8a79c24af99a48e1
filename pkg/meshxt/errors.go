package meshxt

import "errors"

// Error kinds shared by the codec and the relay layer. Callers match them with errors.Is.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUncorrectable      = errors.New("uncorrectable errors")
	ErrTranslation        = errors.New("translation failed")
)
