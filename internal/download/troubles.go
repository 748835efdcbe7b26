package download

import (
	"context"
	"errors"
	"fmt"
)

type (
	TroubleType int
	Trouble     struct {
		error
		tType TroubleType
	}

	ResolutionType  int
	RetryResolution struct{}
	AbortResolution struct{}
)

const (
	SOURCE_FAILURE TroubleType = iota
	NETWORK_FAILURE
	GENERIC_FAILURE

	RETRY ResolutionType = iota
	ABORT
)

var allowedResolutionTypes = map[TroubleType][]ResolutionType{
	SOURCE_FAILURE:  {ABORT, RETRY},
	NETWORK_FAILURE: {ABORT, RETRY},
	GENERIC_FAILURE: {ABORT, RETRY},
}

func newTrouble(err error) Trouble {
	switch {
	case errors.Is(err, ErrSourceUrlInvalid):
		return Trouble{error: err, tType: SOURCE_FAILURE}
	case errors.Is(err, context.DeadlineExceeded):
		return Trouble{error: err, tType: NETWORK_FAILURE}
	}

	return Trouble{error: err, tType: GENERIC_FAILURE}
}

func (t *Trouble) Type() TroubleType { return t.tType }

func (t *Trouble) AllowedResolutionTypes() []ResolutionType {
	if allowed, ok := allowedResolutionTypes[t.tType]; ok {
		return allowed
	}

	return []ResolutionType{}
}

func (t *Trouble) isResolutionTypeAllowed(resType ResolutionType) bool {
	for _, v := range t.AllowedResolutionTypes() {
		if v == resType {
			return true
		}
	}

	return false
}

func (t *Trouble) GenerateResolution(resolutionMethod ResolutionType) (interface{}, error) {
	if !t.isResolutionTypeAllowed(resolutionMethod) {
		return nil, ErrResolutionIncompatible
	}

	switch resolutionMethod {
	case ABORT:
		return &AbortResolution{}, nil
	case RETRY:
		return &RetryResolution{}, nil
	default:
		return nil, ErrResolutionIncompatible
	}
}

func (t TroubleType) String() string {
	switch t {
	case SOURCE_FAILURE:
		return fmt.Sprintf("SOURCE_FAILURE[%d]", t)
	case NETWORK_FAILURE:
		return fmt.Sprintf("NETWORK_FAILURE[%d]", t)
	case GENERIC_FAILURE:
		return fmt.Sprintf("GENERIC_FAILURE[%d]", t)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", t)
	}
}
