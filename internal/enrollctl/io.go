package enrollctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/nimbus-experiments/enrollment-core/pkg/types"
)

func readExperiments(path string) ([]*types.Experiment, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var experiments []*types.Experiment
	if err := json.NewDecoder(r).Decode(&experiments); err != nil {
		return nil, fmt.Errorf("decode experiments JSON: %w", err)
	}
	return experiments, nil
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
