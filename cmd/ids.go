package main

import (
	"strconv"

	"github.com/rotisserie/eris"
)

func parseID(kind, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid %s id %q", kind, raw)
	}
	return id, nil
}
