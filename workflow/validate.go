package workflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Validation errors
var (
	ErrValidation = errors.New("output failed validation")
	ErrPageCount  = errors.New("output page count differs from input")
)

var disableConfigDir sync.Once

// Validate checks the file at path with pdfcpu in relaxed mode and
// compares its page count with wantPages. It returns the page count.
func Validate(path string, wantPages int) (int, error) {
	// pdfcpu would otherwise create a config directory in the user's home.
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if n != wantPages {
		return n, fmt.Errorf("%w: %d, want %d", ErrPageCount, n, wantPages)
	}
	return n, nil
}
