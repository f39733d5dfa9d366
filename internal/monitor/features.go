package monitor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Feature names accepted by Toggle.
const (
	FeatureOneHourWarning   = "oneHourWarning"
	FeatureBackInRangeAlert = "backInRangeAlert"
)

// ErrUnknownFeature indicates a toggle request for a feature that does not exist.
var ErrUnknownFeature = errors.New("monitor: unknown feature")

// FeatureNames lists toggleable features; a feature's 1-based position is its number.
var FeatureNames = []string{FeatureOneHourWarning, FeatureBackInRangeAlert}

// Features are the process-wide alert switches.
type Features struct {
	OneHourWarning   bool
	BackInRangeAlert bool
}

// Get reports the state of a named feature.
func (f Features) Get(name string) (bool, error) {
	switch name {
	case FeatureOneHourWarning:
		return f.OneHourWarning, nil
	case FeatureBackInRangeAlert:
		return f.BackInRangeAlert, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownFeature, name)
}

func (f *Features) flip(name string) (bool, error) {
	switch name {
	case FeatureOneHourWarning:
		f.OneHourWarning = !f.OneHourWarning
		return f.OneHourWarning, nil
	case FeatureBackInRangeAlert:
		f.BackInRangeAlert = !f.BackInRangeAlert
		return f.BackInRangeAlert, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownFeature, name)
}

// ResolveFeature maps a feature name (case-insensitive) or 1-based number to its canonical name.
func ResolveFeature(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(FeatureNames) {
			return "", fmt.Errorf("%w: #%d", ErrUnknownFeature, n)
		}
		return FeatureNames[n-1], nil
	}
	for _, name := range FeatureNames {
		if strings.EqualFold(name, ref) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFeature, ref)
}
