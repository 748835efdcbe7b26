package downloads

import (
	"encoding/json"
	"fmt"

	"github.com/fetcharr/fetcharr/internal/download"
)

// ResolutionTypeWrapper exists to allow the JSON marshalling logic
// for the download.ResolutionType to exist inside of this API package,
// rather then 'polluting' the model itself with API-specific logic.
type ResolutionTypeWrapper struct{ Value download.ResolutionType }

func (wrapper ResolutionTypeWrapper) MarshalJSON() ([]byte, error) {
	switch wrapper.Value {
	case download.RETRY:
		return json.Marshal("retry")
	case download.ABORT:
		return json.Marshal("abort")
	default:
		return nil, fmt.Errorf("cannot marshal unknown resolution type %v", wrapper.Value)
	}
}

func (wrapper *ResolutionTypeWrapper) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw {
	case "retry":
		wrapper.Value = download.RETRY
	case "abort":
		wrapper.Value = download.ABORT
	default:
		return fmt.Errorf("cannot unmarshal unknown resolution type '%s'", raw)
	}

	return nil
}
