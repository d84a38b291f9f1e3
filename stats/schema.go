// Copyright 2026 The Statsfs Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"bytes"
	"fmt"
)

// Schema renders the source's .schema file: the label list (leaf
// first, then ancestors in order), a blank line, then one METRIC
// block per value descriptor in binding order.
//
//	LABEL
//	<key> <value>
//	...
//
//	METRIC
//	NAME <name>
//	FLAG <CUMULATIVE|GAUGE>
//	TYPE INT
//	DESC <description>
//
// The snapshot is taken under the source's read lock; callers serving
// it from an open file should hold a reference for the file's
// lifetime.
func (s *Source) Schema() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteString("LABEL\n")
	for _, label := range s.labels {
		fmt.Fprintf(&buf, "%s %s\n", label.Key, label.Value)
	}
	buf.WriteByte('\n')

	for _, b := range s.bindings {
		for i := range b.set.Values {
			v := &b.set.Values[i]
			fmt.Fprintf(&buf, "METRIC\nNAME %s\nFLAG %s\nTYPE %s\nDESC %s\n\n",
				v.Name, v.Flag, "INT", v.Description)
		}
	}
	return buf.Bytes()
}
