// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint computes the deterministic job identity used for
// lease-by-lookup cache replay (spec.md §4.1). Grounded on
// lcpvian/query_service.py's `hashed = str(hash(query))`, generalised to a
// process-stable hash since Python's builtin hash() is salted per process.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bambooforest/qiengine/services/engine/datatypes"
)

// Fingerprint is the stringified hash identifying a job's semantically
// significant inputs. Equal fingerprints imply interchangeable results
// (spec.md §3 invariant).
type Fingerprint string

// Primary computes a primary job's fingerprint: a pure function of its SQL
// text (spec.md §4.1 table).
func Primary(sql datatypes.SQLTemplate) Fingerprint {
	return hash("primary", string(sql))
}

// Dependent computes a sentence or metadata job's fingerprint: SQL text plus
// the dependency fingerprint(s), offset, needed and the full-corpus flag
// (spec.md §4.1 table). Dependencies are sorted before hashing so that
// fingerprint equality does not depend on submission order.
func Dependent(kind datatypes.JobKind, sql datatypes.SQLTemplate, dependsOn []Fingerprint, offset int, needed datatypes.Needed, full bool) Fingerprint {
	deps := make([]string, len(dependsOn))
	for i, d := range dependsOn {
		deps[i] = string(d)
	}
	sort.Strings(deps)
	return hash(string(kind), string(sql), strings.Join(deps, ","), fmt.Sprint(offset), fmt.Sprint(needed), fmt.Sprint(full))
}

func hash(parts ...string) Fingerprint {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
