// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package hash

import (
	"testing"
)

func TestString(t *testing.T) {
	sig := Hash([]byte("^WARNING"), []byte("|TEST-START"))
	if got := sig.String(); len(got) != 40 {
		t.Fatalf("bad sig %q", got)
	}
	if String([]byte("a"), []byte("b")) != String([]byte("ab")) {
		t.Fatalf("pieces are not concatenated")
	}
	if String([]byte("^WARNING")) == String([]byte("^ASSERTION")) {
		t.Fatalf("different patterns have the same hash")
	}
}
