// Copyright 2015 Aleksandr Demakin. All rights reserved.

package memglass

import (
	"strconv"
	"strings"
)

const maxSessionNameLen = 64

// Canonical shared memory names for a session. The derived names are
// also embedded in each region's descriptor, so observers follow the
// chain instead of probing the namespace.

func headerName(session string) string {
	return "mg." + session + ".hdr"
}

func regionName(session string, id uint64) string {
	return "mg." + session + ".r." + strconv.FormatUint(id, 10)
}

func overflowName(session string, id uint64) string {
	return "mg." + session + ".o." + strconv.FormatUint(id, 10)
}

func checkSessionName(session string) error {
	if len(session) == 0 || len(session) > maxSessionNameLen {
		return ErrInvalidSessionName
	}
	if strings.ContainsAny(session, "/\\") {
		return ErrInvalidSessionName
	}
	return nil
}
